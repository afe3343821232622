// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigs.k8s.io/streamclient/pkg/testutil"
)

var doc = `
kind: Node
metadata:
  name: node-a
  resourceVersion: "100"
  labels:
    app: frontend
spec:
  taints:
  - key: dedicated
    value: infra
status:
  addresses:
  - 10.0.0.1
  - 10.0.0.2
empty: null
`

func testDoc(t *testing.T) map[string]any {
	return testutil.YamlToDocument(t, doc)
}

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		path   string
		expect Path
		errMsg string
	}{
		"simple": {
			path:   "metadata.name",
			expect: Path{"metadata", "name"},
		},
		"single segment": {
			path:   "kind",
			expect: Path{"kind"},
		},
		"bracket equals dot": {
			path:   "metadata[labels]app",
			expect: Path{"metadata", "labels", "app"},
		},
		"bracket after dot": {
			path:   "spec.taints[0].key",
			expect: Path{"spec", "taints", "0", "key"},
		},
		"empty": {
			path:   "",
			errMsg: `invalid field path ""`,
		},
		"unterminated bracket": {
			path:   "metadata[labels",
			errMsg: `invalid field path "metadata[labels"`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			p, err := Parse(tc.path)
			if tc.errMsg != "" {
				require.EqualError(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, p)
		})
	}
}

func TestExists(t *testing.T) {
	root := testDoc(t)

	testCases := map[string]struct {
		path   any
		expect bool
	}{
		"top level":        {path: "kind", expect: true},
		"nested":           {path: "metadata.labels.app", expect: true},
		"array index":      {path: "status.addresses.1", expect: true},
		"array of maps":    {path: "spec.taints.0.value", expect: true},
		"missing leaf":     {path: "metadata.labels.tier", expect: false},
		"missing branch":   {path: "metadata.annotations.x", expect: false},
		"through scalar":   {path: "kind.x", expect: false},
		"index past end":   {path: "status.addresses.2", expect: false},
		"path slice form":  {path: []string{"metadata", "name"}, expect: true},
		"null is present":  {path: "empty", expect: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := Exists(root, tc.path)
			require.NoError(t, err)
			require.Equal(t, tc.expect, got)
		})
	}

	_, err := Exists(root, "")
	require.Error(t, err)
	assert.IsType(t, BadPathError{}, err)
}

func TestGet(t *testing.T) {
	root := testDoc(t)

	v, err := Get(root, "metadata.resourceVersion")
	require.NoError(t, err)
	require.Equal(t, "100", v)

	v, err = Get(root, "spec.taints.0.key")
	require.NoError(t, err)
	require.Equal(t, "dedicated", v)

	_, err = Get(root, "metadata.uid")
	require.Error(t, err)
	assert.IsType(t, MissingError{}, err)
}

func TestGetDefault(t *testing.T) {
	root := testDoc(t)

	v, err := GetDefault(root, "metadata.uid", "fallback")
	require.NoError(t, err)
	require.Equal(t, "fallback", v)

	// nil values fall back too.
	v, err = GetDefault(root, "empty", "fallback")
	require.NoError(t, err)
	require.Equal(t, "fallback", v)

	v, err = GetDefault(root, "metadata.name", "fallback")
	require.NoError(t, err)
	require.Equal(t, "node-a", v)

	_, err = GetDefault(root, "", "fallback")
	require.Error(t, err)
}

func TestSet(t *testing.T) {
	t.Run("overwrite existing", func(t *testing.T) {
		root := testDoc(t)
		require.NoError(t, Set(root, "metadata.name", "node-b", nil))
		v, err := Get(root, "metadata.name")
		require.NoError(t, err)
		require.Equal(t, "node-b", v)
	})

	t.Run("create intermediates", func(t *testing.T) {
		root := map[string]any{}
		require.NoError(t, Set(root, "metadata.labels.app", "backend", nil))
		expect := map[string]any{
			"metadata": map[string]any{
				"labels": map[string]any{"app": "backend"},
			},
		}
		testutil.AssertEqual(t, expect, root)
	})

	t.Run("create array intermediates", func(t *testing.T) {
		root := map[string]any{}
		opts := &SetOptions{CreateStructureType: StructureArray}
		require.NoError(t, Set(root, "items.0", "first", opts))
		expect := map[string]any{"items": []any{"first"}}
		testutil.AssertEqual(t, expect, root)
	})

	t.Run("no create structure", func(t *testing.T) {
		root := map[string]any{}
		no := false
		err := Set(root, "a.b", 1, &SetOptions{CreateStructure: &no})
		require.Error(t, err)
		assert.IsType(t, MissingError{}, err)
	})

	t.Run("conflict on scalar", func(t *testing.T) {
		root := testDoc(t)
		err := Set(root, "kind.sub", 1, nil)
		require.Error(t, err)
		assert.IsType(t, ConflictError{}, err)
	})

	t.Run("append to array", func(t *testing.T) {
		root := testDoc(t)
		require.NoError(t, Set(root, "status.addresses.2", "10.0.0.3", nil))
		v, err := Get(root, "status.addresses.2")
		require.NoError(t, err)
		require.Equal(t, "10.0.0.3", v)
	})

	t.Run("index far past end", func(t *testing.T) {
		root := testDoc(t)
		err := Set(root, "status.addresses.9", "x", nil)
		require.Error(t, err)
		assert.IsType(t, ConflictError{}, err)
	})
}

func TestUnset(t *testing.T) {
	root := testDoc(t)

	require.NoError(t, Unset(root, "metadata.labels.app"))
	ok, err := Exists(root, "metadata.labels.app")
	require.NoError(t, err)
	require.False(t, ok)

	// Absent path is a no-op.
	require.NoError(t, Unset(root, "metadata.annotations.x"))

	require.Error(t, Unset(root, ""))
}

func TestSetGetRoundTrip(t *testing.T) {
	root := map[string]any{}
	require.NoError(t, Set(root, "a.b.c", "v", nil))
	v, err := Get(root, "a.b.c")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	require.NoError(t, Unset(root, "a.b.c"))
	ok, err := Exists(root, "a.b.c")
	require.NoError(t, err)
	require.False(t, ok)
}
