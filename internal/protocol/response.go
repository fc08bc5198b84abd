// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import "strconv"

// Status is a pre-formatted simple-status reply line.
type Status string

const (
	OK Status = "+OK\r\n"
)

// NilBulk is the reply for a cache miss.
const NilBulk = "$-1\r\n"

// ErrorReply formats a protocol error line. msg must not contain CR or LF.
func ErrorReply(msg string) string {
	return "-" + msg + "\r\n"
}

// BulkReply formats a single bulk-string reply carrying value.
func BulkReply(value []byte) string {
	return "$" + strconv.Itoa(len(value)) + "\r\n" + string(value) + "\r\n"
}

// Predefined error replies used verbatim by the reactor's command
// interpreter.
const (
	ErrProtocolErrorReply = "-ERR Protocol Error\r\n"
	ErrJobQueueFullReply  = "-ERR Job Queue Full\r\n"
	ErrEmbedFailedReply   = "-ERR Vector Embedding Failed\r\n"
)

// UnknownCommandReply formats the per-spec unknown-command error,
// naming the offending command verbatim.
func UnknownCommandReply(name string) string {
	return "-ERR unknown command '" + name + "'\r\n"
}

// WrongArgsReply formats the per-spec argument-count error, naming the
// offending command verbatim.
func WrongArgsReply(name string) string {
	return "-ERR wrong number of arguments for '" + name + "'\r\n"
}
