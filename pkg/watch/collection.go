// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"iter"

	"k8s.io/klog/v2"
)

// Collection multiplexes several watches into one merged lazy event
// sequence. Each outer pass advances every child, in insertion order,
// by exactly one read-cycle, so no watch can starve another for more
// than one cycle. The merge is single-threaded and deterministic.
type Collection struct {
	watches       []*Watch
	stopRequested bool
}

func NewCollection(watches ...*Watch) *Collection {
	return &Collection{watches: watches}
}

// Add appends a watch; it joins the round-robin at the next pass.
func (c *Collection) Add(w *Watch) {
	c.watches = append(c.watches, w)
}

// Stop requests a cooperative stop of the collection and of every
// child watch.
func (c *Collection) Stop() {
	c.stopRequested = true
	for _, w := range c.watches {
		w.Stop()
	}
}

// Events produces the merged sequence. Children that terminate (clean
// EOF on a timeoutSeconds-bounded watch) leave the rotation; the
// sequence ends when no children remain, on stop, or on the first
// child error.
func (c *Collection) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		active := make([]*Watch, len(c.watches))
		copy(active, c.watches)
		joined := len(c.watches)

		for len(active) > 0 {
			survivors := active[:0]
			for _, w := range active {
				events, done, err := w.step(ctx)
				if err != nil {
					yield(Event{}, err)
					return
				}
				for _, ev := range events {
					if !yield(ev, nil) {
						return
					}
				}
				if !done {
					survivors = append(survivors, w)
				} else {
					klog.V(4).Infof("watch %s left the collection", w.id)
				}
			}
			active = survivors
			// Watches added since the last pass join the rotation now.
			active = append(active, c.watches[joined:]...)
			joined = len(c.watches)

			if c.stopRequested {
				// Children saw Stop already; one more step each lets
				// them close their connections and clear their flags.
				for _, w := range active {
					_, _, _ = w.step(ctx)
				}
				c.stopRequested = false
				return
			}
		}
	}
}
