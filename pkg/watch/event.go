// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"strconv"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// EventType classifies a watch event per the Kubernetes API.
type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
	Bookmark EventType = "BOOKMARK"
	Error    EventType = "ERROR"
)

// Event is one unit of server output: a typed envelope around a
// schema-agnostic object document. Raw carries the undecoded frame for
// callers that asked for raw delivery.
type Event struct {
	Type   EventType
	Object map[string]any
	Raw    []byte
}

// ResourceVersion returns the object's metadata.resourceVersion, or ""
// when absent.
func (e Event) ResourceVersion() string {
	if e.Object == nil {
		return ""
	}
	u := unstructured.Unstructured{Object: e.Object}
	return u.GetResourceVersion()
}

// compareRV orders two resourceVersion tokens numerically. Unparseable
// tokens (including "") order as zero, so they are never newer.
func compareRV(a, b string) int {
	av, _ := strconv.ParseUint(a, 10, 64)
	bv, _ := strconv.ParseUint(b, 10, 64)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// IsStatusFailure reports whether the document is a kind:Status
// envelope with status Failure. The server uses these both as inline
// watch failure frames and as one-shot request answers.
func IsStatusFailure(doc map[string]any) bool {
	kind, _ := doc["kind"].(string)
	status, _ := doc["status"].(string)
	return kind == "Status" && status == "Failure"
}

// errorCode extracts object.code from an ERROR frame, or 0.
func errorCode(doc map[string]any) int {
	switch v := doc["code"].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
