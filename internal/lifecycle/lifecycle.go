// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle provides a cooperative-shutdown context for the
// long-running loops in the scheduler daemon (the claim ticker, the
// executor workers, the queue poller). A Context behaves like a
// context.Context, but goroutines started with Go are tracked so that
// Stop can wait for them to drain instead of killing them outright.
package lifecycle

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// A Context wraps a context.Context with goroutine tracking and a
// Stopping channel that is closed before Done, giving tracked
// goroutines a chance to finish their current unit of work.
type Context struct {
	context.Context

	cancel    func()
	stopping  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	firstErr  error
}

// WithContext returns a new Context derived from parent.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
}

// Stopping returns a channel that is closed when Stop is first called,
// before the underlying context is canceled. Loops should select on
// this to break out of their outer for-loop cleanly.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Go runs fn in a tracked goroutine. If fn returns a non-nil error, it
// is recorded (the first error wins) and logged.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.firstErr == nil {
				c.firstErr = err
			}
			c.mu.Unlock()
			log.WithError(err).Warn("tracked goroutine exited with error")
		}
	}()
}

// Stop signals Stopping and waits up to timeout for all tracked
// goroutines started with Go to return, then cancels the underlying
// context and waits for any still running to return. It returns the
// first error any of them returned, if any.
func (c *Context) Stop(timeout time.Duration) error {
	c.stopOnce.Do(func() { close(c.stopping) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("lifecycle: timed out waiting for goroutines to drain; canceling")
	}
	c.cancel()
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr
}
