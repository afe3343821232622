// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package fieldpath provides traversal of generic decoded documents
// (map[string]any trees, as produced by encoding/json) by dotted path.
// It tolerates sparse or absent fields in server responses: lookups can
// fall back to a caller-supplied default instead of failing.
//
// Paths are either a Path ([]string) or a dotted string where bracket
// segments are equivalent to dot segments: "metadata[labels]app" is the
// same as "metadata.labels.app". Numeric segments index into arrays.
package fieldpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is an ordered sequence of keys addressing a value in a document.
type Path []string

func (p Path) String() string {
	return strings.Join(p, ".")
}

// BadPathError is returned when a path cannot be parsed at all.
type BadPathError struct {
	Path string
}

func (e BadPathError) Error() string {
	return fmt.Sprintf("invalid field path %q", e.Path)
}

// MissingError is returned by Get when the path does not resolve and no
// default was provided.
type MissingError struct {
	Path Path
}

func (e MissingError) Error() string {
	return fmt.Sprintf("field path %q not found", e.Path)
}

// ConflictError is returned by Set when creating structure would require
// descending into an existing non-structured value.
type ConflictError struct {
	Path Path
	Key  string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("field path %q: segment %q is not traversable", e.Path, e.Key)
}

// Parse converts the dotted string form into a Path. The empty string is
// not a valid path.
func Parse(path string) (Path, error) {
	if path == "" {
		return nil, BadPathError{Path: path}
	}
	var out Path
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, BadPathError{Path: path}
			}
			seg := path[i+1 : i+end]
			if seg != "" {
				out = append(out, seg)
			}
			i += end
		default:
			cur.WriteByte(path[i])
		}
	}
	flush()
	if len(out) == 0 {
		return nil, BadPathError{Path: path}
	}
	return out, nil
}

// coerce accepts the two supported path forms.
func coerce(path any) (Path, error) {
	switch p := path.(type) {
	case Path:
		if len(p) == 0 {
			return nil, BadPathError{}
		}
		return p, nil
	case []string:
		if len(p) == 0 {
			return nil, BadPathError{}
		}
		return Path(p), nil
	case string:
		return Parse(p)
	default:
		return nil, BadPathError{Path: fmt.Sprintf("%v", path)}
	}
}

// descend resolves a single segment against a node. The second return is
// false when the segment is absent or the node is not traversable.
func descend(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return nil, false
		}
		return n[i], true
	default:
		return nil, false
	}
}

// Exists reports whether path resolves to a value in root.
func Exists(root map[string]any, path any) (bool, error) {
	p, err := coerce(path)
	if err != nil {
		return false, err
	}
	var node any = root
	for _, key := range p {
		next, ok := descend(node, key)
		if !ok {
			return false, nil
		}
		node = next
	}
	return true, nil
}

// Get returns the value at path. A missing prefix, a non-traversable
// intermediate, or an unset terminal key yields MissingError.
func Get(root map[string]any, path any) (any, error) {
	p, err := coerce(path)
	if err != nil {
		return nil, err
	}
	var node any = root
	for _, key := range p {
		next, ok := descend(node, key)
		if !ok {
			return nil, MissingError{Path: p}
		}
		node = next
	}
	return node, nil
}

// GetDefault is Get with a fallback: the default is returned when the
// path does not resolve or resolves to nil. Only an unparseable path is
// an error.
func GetDefault(root map[string]any, path any, def any) (any, error) {
	p, err := coerce(path)
	if err != nil {
		return nil, err
	}
	v, err := Get(root, p)
	if err != nil || v == nil {
		return def, nil
	}
	return v, nil
}

// StructureType selects what Set creates for missing intermediate nodes.
type StructureType string

const (
	StructureObject StructureType = "obj"
	StructureArray  StructureType = "array"
)

// SetOptions tune Set behavior.
type SetOptions struct {
	// CreateStructure controls whether missing intermediates are created.
	// Nil means true.
	CreateStructure *bool
	// CreateStructureType picks the container kind for created
	// intermediates. Empty means StructureObject.
	CreateStructureType StructureType
}

func (o *SetOptions) createStructure() bool {
	return o == nil || o.CreateStructure == nil || *o.CreateStructure
}

func (o *SetOptions) structureType() StructureType {
	if o == nil || o.CreateStructureType == "" {
		return StructureObject
	}
	return o.CreateStructureType
}

// Set writes value at path, creating intermediate structure as configured.
// Descending into an existing non-structured leaf fails with ConflictError.
func Set(root map[string]any, path any, value any, opts *SetOptions) error {
	p, err := coerce(path)
	if err != nil {
		return err
	}
	return set(root, p, p, value, opts)
}

func set(node any, full, rest Path, value any, opts *SetOptions) error {
	key := rest[0]
	last := len(rest) == 1

	switch n := node.(type) {
	case map[string]any:
		if last {
			n[key] = value
			return nil
		}
		child, ok := n[key]
		if !ok || child == nil {
			if !opts.createStructure() {
				return MissingError{Path: full}
			}
			child = newStructure(opts)
			n[key] = child
		}
		if !traversable(child) {
			return ConflictError{Path: full, Key: key}
		}
		// A created array intermediate must be re-stored after the
		// recursive set may have grown it.
		if arr, ok := child.([]any); ok {
			grown, err := setArray(arr, full, rest[1:], value, opts)
			if err != nil {
				return err
			}
			n[key] = grown
			return nil
		}
		return set(child, full, rest[1:], value, opts)
	default:
		return ConflictError{Path: full, Key: key}
	}
}

// setArray handles the array node case and returns the (possibly grown)
// slice so the caller can re-store it.
func setArray(arr []any, full, rest Path, value any, opts *SetOptions) ([]any, error) {
	key := rest[0]
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i > len(arr) {
		return nil, ConflictError{Path: full, Key: key}
	}
	last := len(rest) == 1
	if i == len(arr) {
		if !opts.createStructure() && !last {
			return nil, MissingError{Path: full}
		}
		if last {
			return append(arr, value), nil
		}
		arr = append(arr, newStructure(opts))
	}
	if last {
		arr[i] = value
		return arr, nil
	}
	child := arr[i]
	if child == nil {
		if !opts.createStructure() {
			return nil, MissingError{Path: full}
		}
		child = newStructure(opts)
		arr[i] = child
	}
	if !traversable(child) {
		return nil, ConflictError{Path: full, Key: key}
	}
	if sub, ok := child.([]any); ok {
		grown, err := setArray(sub, full, rest[1:], value, opts)
		if err != nil {
			return nil, err
		}
		arr[i] = grown
		return arr, nil
	}
	if err := set(child, full, rest[1:], value, opts); err != nil {
		return nil, err
	}
	return arr, nil
}

func newStructure(opts *SetOptions) any {
	if opts.structureType() == StructureArray {
		return []any{}
	}
	return map[string]any{}
}

func traversable(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// Unset removes the terminal map key if present. When the terminal
// segment indexes an array, the element is set to nil instead: the array
// keeps its length and the path still exists. Absent paths are a no-op.
func Unset(root map[string]any, path any) error {
	p, err := coerce(path)
	if err != nil {
		return err
	}
	var node any = root
	for _, key := range p[:len(p)-1] {
		next, ok := descend(node, key)
		if !ok {
			return nil
		}
		node = next
	}
	switch n := node.(type) {
	case map[string]any:
		delete(n, p[len(p)-1])
	case []any:
		i, err := strconv.Atoi(p[len(p)-1])
		if err == nil && i >= 0 && i < len(n) {
			n[i] = nil
		}
	}
	return nil
}
