// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package list reconstructs a logical collection across multiple
// paginated LIST requests using the server's opaque continue token.
package list

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"

	"k8s.io/klog/v2"

	"sigs.k8s.io/streamclient/pkg/fieldpath"
	"sigs.k8s.io/streamclient/pkg/transport"
)

// Requester issues one buffered request; satisfied by
// transport.Transport.
type Requester interface {
	Request(ctx context.Context, verb, endpoint string, params url.Values, body any) (*transport.Response, error)
}

// Pager walks a list endpoint page by page.
type Pager struct {
	requester Requester
	endpoint  string
	params    url.Values
}

func NewPager(requester Requester, endpoint string, params url.Values) *Pager {
	return &Pager{requester: requester, endpoint: endpoint, params: params}
}

// Get materializes the full collection. The returned document is the
// last page's envelope with the items arrays of every page concatenated
// in order. maxPages > 0 bounds the traversal to exactly that many
// pages; 0 means no bound.
func (p *Pager) Get(ctx context.Context, maxPages int) (map[string]any, error) {
	var merged map[string]any
	items := []any{}

	pages := 0
	for page, err := range p.pages(ctx) {
		if err != nil {
			return nil, err
		}
		pageItems, _ := fieldpath.GetDefault(page, "items", []any{})
		arr, _ := pageItems.([]any)
		items = append(items, arr...)
		merged = page
		pages++
		if maxPages > 0 && pages >= maxPages {
			break
		}
	}
	if merged == nil {
		merged = map[string]any{}
	}
	if err := fieldpath.Set(merged, "items", items, nil); err != nil {
		return nil, err
	}
	return merged, nil
}

// Stream lazily yields each item of each page without materializing the
// whole collection.
func (p *Pager) Stream(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for page, err := range p.pages(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			items, _ := fieldpath.GetDefault(page, "items", []any{})
			arr, _ := items.([]any)
			for _, item := range arr {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// pages drives the traversal: reissue with continue=<token> while the
// server supplies a non-empty token.
func (p *Pager) pages(ctx context.Context) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		token := ""
		for page := 0; ; page++ {
			params := url.Values{}
			for k, vs := range p.params {
				params[k] = vs
			}
			if token != "" {
				params.Set("continue", token)
			}
			resp, err := p.requester.Request(ctx, transport.VerbGet, p.endpoint, params, nil)
			if err != nil {
				yield(nil, err)
				return
			}
			var doc map[string]any
			if err := json.Unmarshal(resp.Body, &doc); err != nil {
				yield(nil, fmt.Errorf("decoding list page %d: %w", page, err))
				return
			}
			klog.V(5).Infof("list %s page %d", p.endpoint, page)
			if !yield(doc, nil) {
				return
			}
			next, _ := fieldpath.GetDefault(doc, "metadata.continue", "")
			tokenStr, ok := next.(string)
			if !ok || tokenStr == "" {
				return
			}
			token = tokenStr
		}
	}
}
