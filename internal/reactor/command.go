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

package reactor

import (
	"strconv"
	"strings"
	"time"

	"github.com/riccardogiuriola/vecs/internal/connection"
	"github.com/riccardogiuriola/vecs/internal/logging"
	"github.com/riccardogiuriola/vecs/internal/protocol"
	"github.com/riccardogiuriola/vecs/internal/textnorm"
	"github.com/riccardogiuriola/vecs/internal/vectorindex"
	"github.com/riccardogiuriola/vecs/internal/workerpool"
)

// executeCommand is the command interpreter from spec.md §4.I. argv[0]
// is the command name; matching is case-insensitive, but any error
// text echoes the name exactly as the client sent it.
func (r *Reactor) executeCommand(c *connection.Conn, argv [][]byte) {
	name := string(argv[0])
	switch strings.ToUpper(name) {
	case "SET":
		r.cmdSet(c, name, argv)
	case "QUERY":
		r.cmdQuery(c, name, argv)
	case "DELETE":
		r.cmdDelete(c, name, argv)
	case "FLUSH":
		r.cmdFlush(c, name, argv)
	case "SAVE":
		r.cmdSave(c, name, argv)
	default:
		c.QueueWrite([]byte(protocol.UnknownCommandReply(name)))
		r.armWrite(c)
	}
	if r.st != nil {
		r.st.Commands.WithLabelValues(strings.ToUpper(name)).Inc()
	}
}

// cmdSet normalizes the prompt/params, upserts L1 synchronously, and
// enqueues a SET job for L2 indexing. The client is not answered here;
// +OK is sent once the worker pool's completion callback has indexed
// (or deduped) the vector, per spec.md §4.I.
func (r *Reactor) cmdSet(c *connection.Conn, name string, argv [][]byte) {
	if len(argv) != 4 && len(argv) != 5 {
		c.QueueWrite([]byte(protocol.WrongArgsReply(name)))
		r.armWrite(c)
		return
	}

	prompt := string(argv[1])
	params := string(argv[2])
	response := string(argv[3])

	ttlSeconds := r.cfg.TTLDefault
	if len(argv) == 5 {
		n, err := strconv.Atoi(string(argv[4]))
		if err != nil || n <= 0 {
			c.QueueWrite([]byte(protocol.ErrorReply("invalid TTL")))
			r.armWrite(c)
			return
		}
		ttlSeconds = n
	}

	normPrompt := textnorm.Normalize(prompt)
	normParams := textnorm.Normalize(params)
	key := textnorm.CompositeKey(normPrompt, normParams)

	r.l1.Set(key, response, time.Duration(ttlSeconds)*time.Second)

	err := r.pool.Submit(&workerpool.Job{
		Kind:        workerpool.Set,
		FD:          c.FD,
		ConnID:      c.ID,
		TextToEmbed: normPrompt,
		Prompt:      prompt,
		Response:    response,
		TTLSeconds:  ttlSeconds,
	})
	if err != nil {
		r.reportQueueFull(c)
		return
	}
	// No reply yet; the completion callback answers +OK once L2 has
	// been (or declined to be) updated.
}

// cmdQuery probes L1 synchronously; on a miss it enqueues a QUERY job
// so the completion callback can probe L2 off the reactor's own
// embedding-free critical path.
func (r *Reactor) cmdQuery(c *connection.Conn, name string, argv [][]byte) {
	if len(argv) != 3 {
		c.QueueWrite([]byte(protocol.WrongArgsReply(name)))
		r.armWrite(c)
		return
	}

	prompt := string(argv[1])
	params := string(argv[2])
	normPrompt := textnorm.Normalize(prompt)
	normParams := textnorm.Normalize(params)
	key := textnorm.CompositeKey(normPrompt, normParams)

	if value, hit := r.l1.Get(key); hit {
		if r.st != nil {
			r.st.CacheHits.WithLabelValues("l1").Inc()
		}
		c.QueueWrite([]byte(protocol.BulkReply([]byte(value))))
		r.armWrite(c)
		return
	}

	err := r.pool.Submit(&workerpool.Job{
		Kind:        workerpool.Query,
		FD:          c.FD,
		ConnID:      c.ID,
		TextToEmbed: normPrompt,
		Prompt:      prompt,
	})
	if err != nil {
		r.reportQueueFull(c)
	}
}

// cmdDelete removes the exact-match entry synchronously and enqueues a
// DELETE job so the completion callback can run semantic delete on L2.
func (r *Reactor) cmdDelete(c *connection.Conn, name string, argv [][]byte) {
	if len(argv) != 3 {
		c.QueueWrite([]byte(protocol.WrongArgsReply(name)))
		r.armWrite(c)
		return
	}

	prompt := string(argv[1])
	params := string(argv[2])
	normPrompt := textnorm.Normalize(prompt)
	normParams := textnorm.Normalize(params)
	key := textnorm.CompositeKey(normPrompt, normParams)

	r.l1.Delete(key)

	err := r.pool.Submit(&workerpool.Job{
		Kind:        workerpool.Delete,
		FD:          c.FD,
		ConnID:      c.ID,
		TextToEmbed: normPrompt,
		Prompt:      prompt,
	})
	if err != nil {
		r.reportQueueFull(c)
	}
}

func (r *Reactor) cmdFlush(c *connection.Conn, name string, argv [][]byte) {
	if len(argv) != 1 {
		c.QueueWrite([]byte(protocol.WrongArgsReply(name)))
		r.armWrite(c)
		return
	}
	r.l1.Clear()
	r.l2.Clear()
	c.QueueWrite([]byte(protocol.OK))
	r.armWrite(c)
}

// cmdSave runs the snapshot codec synchronously, per spec.md §4.I — a
// deliberate blocking administrative command.
func (r *Reactor) cmdSave(c *connection.Conn, name string, argv [][]byte) {
	if len(argv) != 1 {
		c.QueueWrite([]byte(protocol.WrongArgsReply(name)))
		r.armWrite(c)
		return
	}
	r.runSnapshot()
	c.QueueWrite([]byte(protocol.OK))
	r.armWrite(c)
}

func (r *Reactor) reportQueueFull(c *connection.Conn) {
	if r.st != nil {
		r.st.JobQueueFull.Inc()
	}
	c.QueueWrite([]byte(protocol.ErrJobQueueFullReply))
	r.armWrite(c)
}

// drainCompletions pops every job the worker pool has finished and
// dispatches it by kind, per spec.md §4.I's "Completion drain" steps.
func (r *Reactor) drainCompletions() {
	for {
		job := r.pool.ReadCompleted()
		if job == nil {
			return
		}
		r.completeJob(job)
	}
}

func (r *Reactor) completeJob(job *workerpool.Job) {
	c := r.conns[job.FD]
	if c == nil || c.ID != job.ConnID {
		// The original client is gone; the completion is discarded.
		return
	}

	if !job.Success {
		if r.st != nil {
			r.st.EmbedFailures.Inc()
		}
		c.QueueWrite([]byte(protocol.ErrEmbedFailedReply))
		r.armWrite(c)
		return
	}

	switch job.Kind {
	case workerpool.Set:
		r.completeSet(c, job)
	case workerpool.Query:
		r.completeQuery(c, job)
	case workerpool.Delete:
		r.completeDelete(c, job)
	default:
		logging.Warnf("reactor: completion with unknown job kind %d", job.Kind)
	}

	r.armWrite(c)
}

func (r *Reactor) completeSet(c *connection.Conn, job *workerpool.Job) {
	_, dup := r.l2.Search(job.Vector, job.Prompt, float32(r.cfg.L2DedupeThreshold))
	if dup {
		if r.st != nil {
			r.st.L2DedupeSkips.Inc()
		}
	} else {
		ttl := time.Duration(job.TTLSeconds) * time.Second
		if err := r.l2.Insert(job.Vector, job.Prompt, job.Response, ttl); err != nil && err != vectorindex.ErrFull {
			logging.Warnf("reactor: L2 insert failed: %s", err)
		}
	}
	// L1 already holds the authoritative value; SET always reports
	// success once L2 indexing has been attempted, per spec.md §7.
	c.QueueWrite([]byte(protocol.OK))
}

func (r *Reactor) completeQuery(c *connection.Conn, job *workerpool.Job) {
	resp, hit := r.l2.Search(job.Vector, job.Prompt, float32(r.cfg.L2Threshold))
	if hit {
		if r.st != nil {
			r.st.CacheHits.WithLabelValues("l2").Inc()
		}
		c.QueueWrite([]byte(protocol.BulkReply([]byte(resp))))
		return
	}
	if r.st != nil {
		r.st.CacheMisses.Inc()
	}
	c.QueueWrite([]byte(protocol.NilBulk))
}

func (r *Reactor) completeDelete(c *connection.Conn, job *workerpool.Job) {
	r.l2.DeleteSemantic(job.Vector)
	c.QueueWrite([]byte(protocol.OK))
}
