// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"sync"
	"time"

	utilnet "k8s.io/apimachinery/pkg/util/net"
)

// Stream is an open streaming response body with a per-read deadline.
// A Read that hits the deadline before any bytes arrive returns (0, nil)
// rather than an error; end of stream is io.EOF; anything else is a
// ReadError.
//
// The body is drained by an internal goroutine so a deadline can fire
// without poisoning the HTTP connection; the Stream API itself is
// driven entirely by the caller.
type Stream struct {
	body    io.ReadCloser
	timeout time.Duration
	chunks  chan chunk

	leftover []byte
	sawEOF   bool
	err      error

	closeOnce sync.Once
}

type chunk struct {
	data []byte
	err  error
}

func newStream(body io.ReadCloser, timeout time.Duration) *Stream {
	s := &Stream{
		body:    body,
		timeout: timeout,
		chunks:  make(chan chunk),
	}
	go s.fill()
	return s
}

// fill pumps the body into the chunk channel until EOF or error.
func (s *Stream) fill() {
	for {
		buf := make([]byte, 8192)
		n, err := s.body.Read(buf)
		if n > 0 {
			s.chunks <- chunk{data: buf[:n]}
		}
		if err != nil {
			s.chunks <- chunk{err: err}
			close(s.chunks)
			return
		}
	}
}

// EOF reports whether the stream has delivered its final byte.
func (s *Stream) EOF() bool {
	return s.sawEOF && len(s.leftover) == 0
}

// Read fills p with available bytes. It blocks for at most the
// configured per-read timeout; expiry yields (0, nil).
func (s *Stream) Read(p []byte) (int, error) {
	if len(s.leftover) > 0 {
		n := copy(p, s.leftover)
		s.leftover = s.leftover[n:]
		return n, nil
	}
	if s.sawEOF {
		if s.err != nil {
			return 0, ReadError{Err: s.err}
		}
		return 0, io.EOF
	}

	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case c, ok := <-s.chunks:
		if !ok {
			s.sawEOF = true
			return 0, io.EOF
		}
		if c.err != nil {
			s.sawEOF = true
			if c.err == io.EOF || utilnet.IsProbableEOF(c.err) {
				return 0, io.EOF
			}
			s.err = c.err
			return 0, ReadError{Err: c.err}
		}
		n := copy(p, c.data)
		s.leftover = c.data[n:]
		return n, nil
	case <-timeout:
		return 0, nil
	}
}

// Close terminates the stream and releases the connection.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		// Unblock the fill goroutine if it is parked on a send.
		go func() {
			for range s.chunks { //nolint:revive
			}
		}()
	})
	return err
}
