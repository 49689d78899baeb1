// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package linesource provides a peekable, timeout-aware line iterator over a
// byte stream. It is the minimum primitive the kmsg parser needs to decide
// whether an upcoming line is a continuation of the record it is currently
// assembling, without blocking indefinitely when the producer is idle.
//
// A dedicated goroutine owns the blocking read loop; Next and PeekTimeout
// hand off through a channel plus a single-slot "pending" buffer, the same
// shape as a producer-goroutine-plus-channel hand-off, generalized into
// one bounded-peek primitive.
package linesource

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

type lineResult struct {
	line string
	err  error
}

// Source is a peekable, timeout-aware line iterator. It is safe for use by a
// single consumer goroutine; Next and PeekTimeout are not safe to call
// concurrently with each other or with themselves.
type Source struct {
	ch      chan lineResult
	pending *lineResult
	eof     bool
}

// New starts a background goroutine reading newline-delimited lines from r
// and returns a Source over them. The goroutine exits once r is exhausted
// or returns an error; either case surfaces as end-of-stream to callers.
func New(r io.Reader) *Source {
	s := &Source{ch: make(chan lineResult)}
	go s.readLoop(r)
	return s
}

func (s *Source) readLoop(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			s.ch <- lineResult{line: strings.TrimRight(line, "\n")}
		}
		if err != nil {
			// Any I/O error, including io.EOF, is reported as stream end.
			s.ch <- lineResult{err: io.EOF}
			close(s.ch)
			return
		}
	}
}

// Next blocks until the next line is available and returns it, consuming
// whatever PeekTimeout most recently cached. It returns io.EOF once the
// underlying stream has ended.
func (s *Source) Next(ctx context.Context) (string, error) {
	r, err := s.fetch(ctx, 0)
	if err != nil {
		return "", err
	}
	s.pending = nil
	if r.err != nil {
		return "", r.err
	}
	return r.line, nil
}

// PeekTimeout looks at the next line without consuming it, waiting at most
// d. A timeout does not consume data or advance state: a later Next or
// PeekTimeout sees the same line once it arrives. Successive peeks before
// the next Next call are idempotent.
func (s *Source) PeekTimeout(ctx context.Context, d time.Duration) (string, error) {
	r, err := s.fetch(ctx, d)
	if err != nil {
		return "", err
	}
	if r.err != nil {
		return "", r.err
	}
	return r.line, nil
}

// fetch returns the cached pending result if one exists, or waits up to
// timeout (no bound if timeout <= 0) for the next line, caching whatever it
// receives as pending so a following Next/PeekTimeout observes the same
// value. The returned error is non-nil only for ctx cancellation; timeout
// and end-of-stream are reported via the returned lineResult's err field
// (context.DeadlineExceeded, io.EOF respectively).
func (s *Source) fetch(ctx context.Context, timeout time.Duration) (lineResult, error) {
	if s.pending != nil {
		return *s.pending, nil
	}
	if s.eof {
		return lineResult{err: io.EOF}, nil
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-ctx.Done():
		return lineResult{}, ctx.Err()
	case <-timerC:
		return lineResult{err: context.DeadlineExceeded}, nil
	case r, ok := <-s.ch:
		if !ok {
			s.eof = true
			return lineResult{err: io.EOF}, nil
		}
		if r.err == io.EOF {
			s.eof = true
		}
		s.pending = &r
		return r, nil
	}
}
