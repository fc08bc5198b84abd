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

// Package workerpool moves embedding computation off the reactor
// goroutine: a bounded, mutex+condvar-guarded job queue feeds a fixed
// number of worker goroutines, and completions are handed back to the
// reactor through a non-blocking pipe-backed wakeup so the reactor's
// poller never has to block on inference.
package workerpool

import (
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/riccardogiuriola/vecs/internal/embedder"
	"github.com/riccardogiuriola/vecs/internal/logging"
)

// Kind identifies what a Job's completion should do at the reactor.
type Kind int

const (
	Set Kind = iota
	Query
	Delete
)

// Job is submitted by the reactor and returned, completed, through the
// pool's completion channel. Ownership of every owned field transfers
// to the worker on Submit and back to the reactor on completion.
type Job struct {
	Kind Kind

	FD     int
	ConnID uint64

	TextToEmbed string // normalized prompt, used for embedding
	Prompt      string // original prompt, for hybrid scoring / insertion
	Response    string // SET only
	TTLSeconds  int    // SET only

	Vector  []float32
	Success bool
}

// ErrQueueFull is returned by Submit when the bounded queue is at
// capacity; this is the backpressure signal the reactor turns into
// "-ERR Job Queue Full\r\n".
var ErrQueueFull = errors.New("workerpool: queue full")

// Pool is the fixed-size worker pool.
type Pool struct {
	emb embedder.Embedder

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Job
	maxJobs int
	running bool

	completedMu sync.Mutex
	completed   []*Job

	notifyR, notifyW int

	wg sync.WaitGroup
}

// New starts numWorkers goroutines backed by emb, each calling
// emb.Embed with its own worker id, and returns the running Pool.
func New(emb embedder.Embedder, numWorkers, maxQueue int) (*Pool, error) {
	r, w, err := unix.Pipe2(unix.O_NONBLOCK | unix.O_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("pipe2", err)
	}

	p := &Pool{
		emb:     emb,
		maxJobs: maxQueue,
		running: true,
		notifyR: r,
		notifyW: w,
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.workerRoutine(i)
	}
	return p, nil
}

// NotifyFD returns the read end of the completion wakeup pipe, meant to
// be registered with the reactor's Poller for read-readiness.
func (p *Pool) NotifyFD() int {
	return p.notifyR
}

// Submit enqueues job under the queue mutex. It returns ErrQueueFull
// without taking ownership of job if the bounded queue is already at
// capacity — the caller retains the job and must not resubmit it.
func (p *Pool) Submit(job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= p.maxJobs {
		return ErrQueueFull
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()
	return nil
}

func (p *Pool) workerRoutine(workerID int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && p.running {
			p.cond.Wait()
		}
		if !p.running {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		dim := p.emb.Dim()
		job.Vector = make([]float32, dim)
		job.Success = p.emb.Embed(workerID, job.TextToEmbed, job.Vector)
		if !job.Success {
			job.Vector = nil
			logging.Warnf("workerpool: worker %d embed failed for job kind %d", workerID, job.Kind)
		}

		p.postCompletion(job)
	}
}

// postCompletion appends job to the completed queue and wakes the
// reactor's poller with a single atomic byte write to the notify pipe,
// mirroring the original implementation's one-write-per-completion
// pipe notification (pointer-sized there; a 1-byte wakeup here, since
// Go values cannot be marshaled through a raw pipe — the actual job is
// handed off via the in-process completed queue instead).
func (p *Pool) postCompletion(job *Job) {
	p.completedMu.Lock()
	p.completed = append(p.completed, job)
	p.completedMu.Unlock()

	var b [1]byte
	if _, err := unix.Write(p.notifyW, b[:]); err != nil && err != unix.EAGAIN {
		logging.Warnf("workerpool: notify pipe write failed: %s", err)
	}
}

// ReadCompleted pops exactly one completed job, or returns nil if none
// is ready — the non-blocking-read analogue of the original's
// EWOULDBLOCK-on-empty contract.
func (p *Pool) ReadCompleted() *Job {
	p.completedMu.Lock()
	defer p.completedMu.Unlock()

	if len(p.completed) == 0 {
		return nil
	}
	job := p.completed[0]
	p.completed = p.completed[1:]

	var b [1]byte
	_, _ = unix.Read(p.notifyR, b[:])
	return job
}

// Shutdown sets the running flag false, wakes every worker, joins them,
// and closes both ends of the completion pipe. Any jobs still queued or
// completed-but-undrained are dropped.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.running = false
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	_ = unix.Close(p.notifyR)
	_ = unix.Close(p.notifyW)
}
