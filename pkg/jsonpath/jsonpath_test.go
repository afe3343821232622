// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sigs.k8s.io/streamclient/pkg/testutil"
)

var credY = `
credential:
  access_token: ya29.token
  token_expiry: "2026-08-06T12:00:00Z"
status:
  conditions:
  - type: Ready
    status: "True"
  - type: Schedulable
    status: "False"
`

func testDoc(t *testing.T) map[string]any {
	return testutil.YamlToDocument(t, credY)
}

func TestGet(t *testing.T) {
	testCases := map[string]struct {
		path   string
		values []any
		errMsg string
	}{
		"token": {
			path:   "$.credential.access_token",
			values: []any{"ya29.token"},
		},
		"expiry": {
			path:   "$.credential.token_expiry",
			values: []any{"2026-08-06T12:00:00Z"},
		},
		"missing": {
			path:   "$.credential.nope",
			values: []any{},
		},
		"field selector": {
			path:   `$.status.conditions[?(@.type=="Ready")].status`,
			values: []any{"True"},
		},
		"invalid expression": {
			path:   "$.credential[",
			errMsg: "failed to evaluate jsonpath expression ($.credential[): unexpected end of file",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			values, err := Get(testDoc(t), tc.path)
			if tc.errMsg != "" {
				require.EqualError(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.values, values)
		})
	}
}

func TestSet(t *testing.T) {
	testCases := map[string]struct {
		path  string
		value any
		found int
	}{
		"string": {
			path:  "$.credential.access_token",
			value: "refreshed",
			found: 1,
		},
		"number": {
			path:  "$.credential.access_token",
			value: float64(42),
			found: 1,
		},
		"null": {
			path:  "$.credential.access_token",
			value: nil,
			found: 1,
		},
		"multi-node": {
			path:  "$.status.conditions[*].status",
			value: "Unknown",
			found: 2,
		},
		"no match": {
			path:  "$.credential.nope",
			value: "x",
			found: 0,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			obj := testDoc(t)
			found, err := Set(obj, tc.path, tc.value)
			require.NoError(t, err)
			require.Equal(t, tc.found, found)

			if tc.found == 0 {
				return
			}
			values, err := Get(obj, tc.path)
			require.NoError(t, err)
			require.Len(t, values, tc.found)
			for _, v := range values {
				require.Equal(t, tc.value, v)
			}
		})
	}
}
