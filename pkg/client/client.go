// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package client is the user-facing surface: one-shot requests, paged
// lists, and watches, bound to a credential resolver.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"k8s.io/klog/v2"

	"sigs.k8s.io/streamclient/pkg/credentials"
	"sigs.k8s.io/streamclient/pkg/list"
	"sigs.k8s.io/streamclient/pkg/transport"
	"sigs.k8s.io/streamclient/pkg/watch"
)

// RequestOptions tune per-call encoding and decoding. Unset fields
// fall through to the client default, then to the system default
// (decode the response, associatively).
type RequestOptions struct {
	// DecodeResponse controls whether response bodies are decoded at
	// all; false returns raw bytes.
	DecodeResponse *bool
	// DecodeAssociative selects generic map/slice decoding; false
	// returns the body as json.RawMessage for caller-side decoding.
	DecodeAssociative *bool
}

func (o RequestOptions) merged(over RequestOptions) RequestOptions {
	out := o
	if out.DecodeResponse == nil {
		out.DecodeResponse = over.DecodeResponse
	}
	if out.DecodeAssociative == nil {
		out.DecodeAssociative = over.DecodeAssociative
	}
	return out
}

func (o RequestOptions) decodeResponse() bool {
	return o.DecodeResponse == nil || *o.DecodeResponse
}

func (o RequestOptions) decodeAssociative() bool {
	return o.DecodeAssociative == nil || *o.DecodeAssociative
}

// Option customizes a Client.
type Option func(*Client)

// WithRequestOptions sets the client-level request option defaults.
func WithRequestOptions(opts RequestOptions) Option {
	return func(c *Client) { c.defaults = opts }
}

// Client binds a credential resolver and a transport into the
// user-facing API.
type Client struct {
	resolver  *credentials.Resolver
	transport *transport.Transport
	defaults  RequestOptions
}

func New(resolver *credentials.Resolver, opts ...Option) *Client {
	c := &Client{
		resolver:  resolver,
		transport: transport.New(resolver),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases resources owned by the underlying credentials.
func (c *Client) Close() error {
	return c.resolver.Close()
}

// Request performs one buffered API call. Non-2xx responses are not
// errors: the (possibly decoded) body is returned as-is so callers can
// inspect kind:Status payloads. The result is a generic document,
// json.RawMessage, or raw bytes depending on the resolved options.
func (c *Client) Request(ctx context.Context, verb, endpoint string, params url.Values, body any, opts ...RequestOptions) (any, error) {
	resolved := c.defaults
	if len(opts) > 0 {
		resolved = opts[0].merged(c.defaults)
	}
	resp, err := c.transport.Request(ctx, verb, endpoint, params, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		klog.V(4).Infof("%s %s returned status %d", verb, endpoint, resp.StatusCode)
	}
	if !resolved.decodeResponse() {
		return resp.Body, nil
	}
	if !resolved.decodeAssociative() {
		return json.RawMessage(resp.Body), nil
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return decoded, nil
}

// NewWatch builds a watch over the given endpoint. The client's
// decode options plumb through: a client defaulted to raw responses
// produces raw-delivery watches.
func (c *Client) NewWatch(cfg watch.Config, opts ...watch.Option) *watch.Watch {
	if !cfg.RawDelivery && !c.defaults.decodeResponse() {
		cfg.RawDelivery = true
	}
	return watch.New(streamOpener{t: c.transport}, cfg, opts...)
}

// NewList builds a paged list iterator over the given endpoint.
func (c *Client) NewList(endpoint string, params url.Values) *list.Pager {
	return list.NewPager(c.transport, endpoint, params)
}

// streamOpener adapts transport.Transport to the watch.Opener
// interface.
type streamOpener struct {
	t *transport.Transport
}

func (o streamOpener) OpenStream(ctx context.Context, endpoint string, params url.Values, readTimeout time.Duration) (watch.Stream, error) {
	s, err := o.t.OpenStream(ctx, endpoint, params, readTimeout)
	if err != nil {
		return nil, err
	}
	return s, nil
}
