// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package watch maintains long-lived streaming connections against the
// API server, delivering resource change events exactly once in
// server-issued order. A Watch survives server-side timeouts and dead
// peers by reconnecting and resuming at the highest delivered
// resourceVersion; duplicate replays across reconnects are suppressed.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

const (
	// DefaultReadLength bounds one stream read.
	DefaultReadLength = 8192
	// DefaultReadTimeout bounds the suspension inside one stream read.
	DefaultReadTimeout = 100 * time.Millisecond
	// DefaultDeadPeerTimeout tears down a connection that is at least
	// this old and has received no bytes for at least this long.
	DefaultDeadPeerTimeout = 600 * time.Second
)

// Stream is the open streaming connection a Watch reads from.
type Stream interface {
	io.ReadCloser
	// EOF reports whether the stream has delivered its final byte.
	EOF() bool
}

// Opener establishes streaming connections; satisfied by the client
// facade wrapping transport.Transport.
type Opener interface {
	OpenStream(ctx context.Context, endpoint string, params url.Values, readTimeout time.Duration) (Stream, error)
}

// Config carries the immutable parameters of one Watch.
type Config struct {
	// Endpoint is the watch path, e.g.
	// "/api/v1/nodes?watch=true". Query parameters already present are
	// preserved.
	Endpoint string
	// Params are extra query parameters; timeoutSeconds, labelSelector
	// and fieldSelector pass through here.
	Params url.Values
	// ResourceVersion is the starting point; empty lets the server
	// replay current state as an initial burst of ADDED events.
	ResourceVersion string
	// Callback receives events in push mode.
	Callback func(Event, *Watch)
	// RawDelivery suppresses the decoded document on delivered events,
	// leaving only the raw frame bytes.
	RawDelivery bool
	// AllowBookmarks requests server BOOKMARK events.
	AllowBookmarks bool

	ReadLength      int
	ReadTimeout     time.Duration
	DeadPeerTimeout time.Duration
}

// Option customizes a Watch.
type Option func(*Watch)

// WithClock substitutes the time source, for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(w *Watch) { w.clock = c }
}

// Watch owns one streaming connection and its parse state. It advances
// only when the caller drives it; the only suspension point is the
// bounded read inside the stream.
type Watch struct {
	id     string
	opener Opener
	cfg    Config
	clock  clock.PassiveClock

	stream Stream
	buf    []byte

	stopRequested              bool
	resourceVersion            string
	resourceVersionLastSuccess string
	handleStart                time.Time
	lastBytes                  time.Time
	initialLoadFinished        bool
	timeoutSeconds             int
}

// New builds a Watch. Zero config fields take the package defaults.
func New(opener Opener, cfg Config, opts ...Option) *Watch {
	if cfg.ReadLength <= 0 {
		cfg.ReadLength = DefaultReadLength
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.DeadPeerTimeout < 0 {
		cfg.DeadPeerTimeout = 0
	} else if cfg.DeadPeerTimeout == 0 {
		cfg.DeadPeerTimeout = DefaultDeadPeerTimeout
	}
	w := &Watch{
		id:              uuid.NewString()[:8],
		opener:          opener,
		cfg:             cfg,
		clock:           clock.RealClock{},
		resourceVersion: cfg.ResourceVersion,
	}
	if cfg.Params != nil {
		if secs, err := strconv.Atoi(cfg.Params.Get("timeoutSeconds")); err == nil && secs > 0 {
			w.timeoutSeconds = secs
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ResourceVersion is the highest resourceVersion observed.
func (w *Watch) ResourceVersion() string { return w.resourceVersion }

// LastDeliveredResourceVersion is the highest resourceVersion
// successfully handed to the caller; it never decreases.
func (w *Watch) LastDeliveredResourceVersion() string { return w.resourceVersionLastSuccess }

// Stop requests a cooperative stop. The next read-iteration closes the
// connection, clears the flag, and returns control. Safe to call before
// Start and more than once.
func (w *Watch) Stop() {
	w.stopRequested = true
}

// Fork is unsupported: the runtime offers no process fork.
func (w *Watch) Fork() (bool, error) {
	return false, errors.ErrUnsupported
}

// Start runs the Watch in push mode, invoking the configured callback
// for every delivered event. cycles == 0 runs until stopped or the
// server terminates a timeoutSeconds-bounded watch; otherwise at most
// cycles read-iterations are performed.
func (w *Watch) Start(ctx context.Context, cycles int) error {
	for i := 0; ; i++ {
		events, done, err := w.step(ctx)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if w.cfg.Callback != nil {
				w.cfg.Callback(ev, w)
			}
			if w.stopRequested {
				w.reset()
				w.stopRequested = false
				return nil
			}
		}
		if done {
			return nil
		}
		if cycles > 0 && i+1 >= cycles {
			return nil
		}
	}
}

// Events runs the Watch in pull mode as a lazy event sequence. The
// sequence ends on stop, on a terminal clean EOF, or on error (yielded
// as the final element). Cycle semantics match Start.
func (w *Watch) Events(ctx context.Context, cycles int) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for i := 0; ; i++ {
			events, done, err := w.step(ctx)
			if err != nil {
				yield(Event{}, err)
				return
			}
			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
				if w.stopRequested {
					w.reset()
					w.stopRequested = false
					return
				}
			}
			if done {
				return
			}
			if cycles > 0 && i+1 >= cycles {
				return
			}
		}
	}
}

// step performs one read-iteration of the outer loop: connection
// upkeep, one bounded read, and a parse pass over the buffer. It
// returns the events to deliver, whether the Watch is finished, and
// any terminal error.
func (w *Watch) step(ctx context.Context) ([]Event, bool, error) {
	if w.stopRequested || ctx.Err() != nil {
		w.reset()
		w.stopRequested = false
		return nil, true, nil
	}
	if w.stream == nil {
		if err := w.connect(ctx); err != nil {
			return nil, true, err
		}
	}

	now := w.clock.Now()
	if w.cfg.DeadPeerTimeout > 0 &&
		now.Sub(w.handleStart) >= w.cfg.DeadPeerTimeout &&
		(w.lastBytes.IsZero() || now.Sub(w.lastBytes) >= w.cfg.DeadPeerTimeout) {
		klog.V(4).Infof("watch %s: peer silent for %s, reconnecting", w.id, w.cfg.DeadPeerTimeout)
		w.reset()
		if err := w.connect(ctx); err != nil {
			return nil, true, err
		}
	}

	if w.stream.EOF() {
		if w.timeoutSeconds > 0 {
			// The caller bounded the watch server-side; a clean end
			// of stream is terminal.
			w.reset()
			return nil, true, nil
		}
		klog.V(4).Infof("watch %s: stream ended, reconnecting", w.id)
		w.reset()
		if err := w.connect(ctx); err != nil {
			return nil, true, err
		}
	}

	p := make([]byte, w.cfg.ReadLength)
	n, err := w.stream.Read(p)
	if err != nil {
		if err == io.EOF {
			// Handled at the top of the next iteration.
			return nil, false, nil
		}
		w.reset()
		return nil, true, err
	}
	now = w.clock.Now()
	if n > 0 {
		w.lastBytes = now
	} else if !w.initialLoadFinished {
		// The first read that produces nothing marks the end of the
		// initial-state burst.
		w.initialLoadFinished = true
	}

	w.buf = append(w.buf, p[:n]...)
	if !bytes.ContainsRune(w.buf, '\n') {
		return nil, false, nil
	}
	segments := bytes.Split(w.buf, []byte{'\n'})
	w.buf = segments[len(segments)-1]

	var out []Event
	for _, seg := range segments[:len(segments)-1] {
		if len(bytes.TrimSpace(seg)) == 0 {
			continue
		}
		ev, resetNeeded := w.processFrame(seg)
		if resetNeeded {
			// Frames after a reset trigger on the same connection are
			// stale; drop them with the buffer.
			w.reset()
			break
		}
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out, false, nil
}

// processFrame decodes and pre-processes one newline-delimited frame.
// It returns the event to deliver (nil for suppressed or control
// frames) and whether the connection must be reset.
func (w *Watch) processFrame(seg []byte) (*Event, bool) {
	var decoded any
	if err := json.Unmarshal(seg, &decoded); err != nil {
		// One bad frame never kills the stream.
		klog.V(4).Infof("watch %s: skipping undecodable frame: %v", w.id, err)
		return nil, false
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		klog.V(4).Infof("watch %s: non-object frame, resetting", w.id)
		return nil, true
	}
	if IsStatusFailure(doc) {
		klog.V(4).Infof("watch %s: server reported failure: %v, resetting", w.id, doc["message"])
		return nil, true
	}

	typ, _ := doc["type"].(string)
	obj, _ := doc["object"].(map[string]any)
	if EventType(typ) == Error {
		if errorCode(obj) == 410 {
			// Resource version too old: let the server pick a new
			// starting point.
			klog.V(4).Infof("watch %s: resource version too old, clearing resume point", w.id)
			w.resourceVersion = ""
		}
		return nil, true
	}

	// Initial-load tripwire: the replay burst is all ADDED; the first
	// other type marks the switch to live changes.
	if !w.initialLoadFinished && EventType(typ) != Added {
		w.initialLoadFinished = true
	}

	ev := Event{Type: EventType(typ), Object: obj, Raw: append([]byte(nil), seg...)}
	rv := ev.ResourceVersion()

	deliver := !w.initialLoadFinished || compareRV(rv, w.resourceVersionLastSuccess) > 0
	if compareRV(rv, w.resourceVersionLastSuccess) > 0 {
		w.resourceVersion = rv
		w.resourceVersionLastSuccess = rv
	}
	if !deliver {
		klog.V(5).Infof("watch %s: suppressing duplicate rv=%s", w.id, rv)
		return nil, false
	}
	if w.cfg.RawDelivery {
		ev.Object = nil
	}
	return &ev, false
}

func (w *Watch) connect(ctx context.Context) error {
	params := url.Values{}
	for k, vs := range w.cfg.Params {
		params[k] = vs
	}
	if w.cfg.AllowBookmarks {
		params.Set("allowWatchBookmarks", "true")
	}
	if w.resourceVersion != "" {
		params.Set("resourceVersion", w.resourceVersion)
	}
	stream, err := w.opener.OpenStream(ctx, w.cfg.Endpoint, params, w.cfg.ReadTimeout)
	if err != nil {
		return err
	}
	w.stream = stream
	w.handleStart = w.clock.Now()
	w.lastBytes = time.Time{}
	klog.V(4).Infof("watch %s: connected to %s (rv=%q)", w.id, w.cfg.Endpoint, w.resourceVersion)
	return nil
}

// reset closes the current connection and drops buffered bytes. The
// resume cursor survives; the next step reconnects.
func (w *Watch) reset() {
	if w.stream != nil {
		if err := w.stream.Close(); err != nil {
			klog.V(4).Infof("watch %s: close failed: %v", w.id, err)
		}
		w.stream = nil
	}
	w.buf = nil
}
