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

// Package logging wraps logrus with rotated, age-expired file output.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var LevelMapperRev = map[string]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

type logger struct {
	iWriter *logrus.Logger
	fWriter *logrus.Logger
}

var logObj *logger

type Options struct {
	path      string
	level     string
	expireDay int
}

var defaultOptions = Options{
	path:      "log",
	level:     LevelInfo,
	expireDay: 7,
}

type Option func(*Options)

func WithPath(v string) Option {
	return func(o *Options) { o.path = v }
}

func WithExpireDay(v int) Option {
	return func(o *Options) { o.expireDay = v }
}

func WithLevel(v string) Option {
	return func(o *Options) { o.level = v }
}

// Init sets up the process-wide logger. Calling it twice is a no-op.
func Init(opts ...Option) error {
	if logObj != nil {
		return nil
	}
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}

	if err := os.MkdirAll(o.path, 0o755); err != nil {
		return fmt.Errorf("mkdir log path %q: %w", o.path, err)
	}

	iw, err := newWriter(o.path, "vecs.log", o.expireDay)
	if err != nil {
		return err
	}
	fw, err := newWriter(o.path, "vecs.log.wf", o.expireDay)
	if err != nil {
		return err
	}

	logObj = &logger{iWriter: iw, fWriter: fw}
	SetLevel(o.level)
	return nil
}

// SetLevel updates the active log level at runtime; safe to call from a
// config hot-reload watcher.
func SetLevel(level string) {
	if logObj == nil {
		return
	}
	if lvl, ok := LevelMapperRev[level]; ok {
		logObj.iWriter.SetLevel(lvl)
		logObj.fWriter.SetLevel(lvl)
	}
}

func newWriter(dir, name string, expireDay int) (*logrus.Logger, error) {
	full := name
	if strings.HasPrefix(dir, "/") {
		full = path.Join(dir, name)
	} else {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getwd: %w", err)
		}
		full = path.Join(pwd, dir, name)
	}

	l := logrus.New()
	w, err := rotatelogs.New(
		full+".%Y%m%d%H",
		rotatelogs.WithLinkName(full),
		rotatelogs.WithMaxAge(time.Duration(expireDay)*24*time.Hour),
		rotatelogs.WithRotationTime(time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("rotatelogs for %q: %w", full, err)
	}
	l.SetOutput(w)
	l.Formatter = &textFormatter{}
	return l, nil
}

type textFormatter struct{}

const maxMsgLen = 8192

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	msg := strings.TrimSuffix(entry.Message, "\n")
	if len(msg) > maxMsgLen {
		msg = msg[:maxMsgLen]
	}

	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteByte(' ')
	b.WriteString(entry.Time.Format("06-01-02 15:04:05.999"))
	b.WriteByte(' ')

	if callers := getCaller(entry.Level); len(callers) > 0 {
		b.WriteString(strings.TrimPrefix(callers[0].Function, "github.com/riccardogiuriola/vecs/"))
		b.WriteByte(' ')
		b.WriteString(fmt.Sprintf("%s:%d", filepath.Base(callers[0].File), callers[0].Line))
		b.WriteByte(' ')
	}
	b.WriteString(msg)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func getCaller(level logrus.Level) []runtime.Frame {
	pcs := make([]uintptr, 25)
	depth := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:depth])

	var out []runtime.Frame
	for fr, more := frames.Next(); more; fr, more = frames.Next() {
		if strings.Contains(fr.Function, "internal/logging") || strings.Contains(fr.Function, "sirupsen/logrus") {
			continue
		}
		out = append(out, fr)
		if level != logrus.ErrorLevel {
			return out
		}
	}
	return out
}

func Debugf(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[DEBUG] "+format+"\n", v...)
		return
	}
	if logObj.iWriter.IsLevelEnabled(logrus.DebugLevel) {
		logObj.iWriter.Debugf(format, v...)
	}
}

// Debugfunc defers string construction to avoid paying for it above the debug level.
func Debugfunc(f func() string) {
	if logObj == nil {
		return
	}
	if logObj.iWriter.IsLevelEnabled(logrus.DebugLevel) {
		logObj.iWriter.Debug(f())
	}
}

func Infof(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[INFO] "+format+"\n", v...)
		return
	}
	if logObj.iWriter.IsLevelEnabled(logrus.InfoLevel) {
		logObj.iWriter.Infof(format, v...)
	}
}

func Warnf(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[WARN] "+format+"\n", v...)
		return
	}
	if logObj.fWriter.IsLevelEnabled(logrus.WarnLevel) {
		logObj.fWriter.Warnf(format, v...)
	}
}

func Errorf(format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[ERROR] "+format+"\n", v...)
		return
	}
	if logObj.fWriter.IsLevelEnabled(logrus.ErrorLevel) {
		logObj.fWriter.Errorf(format, v...)
	}
}
