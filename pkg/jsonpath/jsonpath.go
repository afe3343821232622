// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package jsonpath evaluates JSONPath expressions against generic
// decoded documents. Expressions use the `$`-rooted syntax supported by
// github.com/spyzhov/ajson. The credential resolver uses this to pull
// tokens out of auth-provider output at paths supplied by the
// kubeconfig.
package jsonpath

import (
	"encoding/json"
	"fmt"

	"github.com/spyzhov/ajson"
	"k8s.io/klog/v2"
)

// Get evaluates the jsonpath expression against the supplied object and
// returns all matching values. A path that matches nothing returns an
// empty slice, not an error.
func Get(obj map[string]any, expr string) ([]any, error) {
	nodes, _, err := eval(obj, expr)
	if err != nil {
		return nil, err
	}
	values := []any{}
	for _, node := range nodes {
		value, err := node.Unpack()
		if err != nil {
			return nil, fmt.Errorf("failed to unpack jsonpath result (%s): %w", expr, err)
		}
		values = append(values, value)
	}
	return values, nil
}

// Set writes value at every node matched by the jsonpath expression and
// returns the number of nodes written. The object is modified in place.
func Set(obj map[string]any, expr string, value any) (int, error) {
	nodes, root, err := eval(obj, expr)
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	for _, node := range nodes {
		if err := setNode(node, value); err != nil {
			return 0, fmt.Errorf("failed to set jsonpath result (%s): %w", expr, err)
		}
	}
	out, err := ajson.Marshal(root)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize document: %w", err)
	}
	for k := range obj {
		delete(obj, k)
	}
	if err := json.Unmarshal(out, &obj); err != nil {
		return 0, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return len(nodes), nil
}

// eval parses the object into an ajson tree and runs the expression.
func eval(obj map[string]any, expr string) ([]*ajson.Node, *ajson.Node, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	root, err := ajson.Unmarshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse document: %w", err)
	}
	nodes, err := root.JSONPath(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to evaluate jsonpath expression (%s): %w", expr, err)
	}
	klog.V(7).Infof("jsonpath %s matched %d node(s)", expr, len(nodes))
	return nodes, root, nil
}

func setNode(node *ajson.Node, value any) error {
	switch v := value.(type) {
	case nil:
		return node.SetNull()
	case bool:
		return node.SetBool(v)
	case string:
		return node.SetString(v)
	case float64:
		return node.SetNumeric(v)
	case int:
		return node.SetNumeric(float64(v))
	case int64:
		return node.SetNumeric(float64(v))
	default:
		// Composite values round-trip through JSON.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		parsed, err := ajson.Unmarshal(data)
		if err != nil {
			return err
		}
		switch {
		case parsed.IsArray():
			children, err := parsed.GetArray()
			if err != nil {
				return err
			}
			return node.SetArray(children)
		case parsed.IsObject():
			children, err := parsed.GetObject()
			if err != nil {
				return err
			}
			return node.SetObject(children)
		default:
			return fmt.Errorf("unsupported value type %T", value)
		}
	}
}
