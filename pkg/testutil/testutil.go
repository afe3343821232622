// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0
//
// The testutil package houses utility functions for testing.

package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

// YamlToDocument translates a YAML fixture into the generic document
// form the library works with.
func YamlToDocument(t *testing.T, manifest string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(manifest), &doc))
	return doc
}

// AssertEqual fails the test with a readable diff when the two values
// are not deeply equal.
func AssertEqual(t *testing.T, expected, actual any) {
	t.Helper()
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("unexpected value (-want +got):\n%s", diff)
	}
}
