// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package credentials holds resolved authentication material for the
// API server and refreshes it on demand through auth-provider or
// exec-provider commands.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ProviderKind identifies how a credential set is refreshed.
type ProviderKind string

const (
	ProviderStatic ProviderKind = "static"
	ProviderAuth   ProviderKind = "auth-provider"
	ProviderExec   ProviderKind = "exec"
)

// Credentials is a snapshot of TLS and auth material for one cluster.
// Inline material decoded from a kubeconfig lives in temp files owned
// by this value; owned files are deleted by Close and whenever an owned
// slot is overwritten.
type Credentials struct {
	Server         string
	CAFile         string
	CertFile       string
	KeyFile        string
	Token          string
	Expiry         int64 // unix seconds, 0 = never expires
	VerifyPeerName bool
	Provider       ProviderKind

	// owned maps a slot name ("ca", "cert", "key") to the temp file
	// backing it.
	owned map[string]string
}

// WriteOwnedFile stores data in a fresh temp file for the named slot,
// deleting the file previously owned by that slot.
func (c *Credentials) WriteOwnedFile(slot string, data []byte) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("streamclient-%s-%s.pem", slot, uuid.NewString()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing %s material: %w", slot, err)
	}
	if c.owned == nil {
		c.owned = map[string]string{}
	}
	if prev, ok := c.owned[slot]; ok {
		if err := os.Remove(prev); err != nil && !os.IsNotExist(err) {
			klog.V(2).Infof("failed to remove replaced %s file %s: %v", slot, prev, err)
		}
	}
	c.owned[slot] = path
	return path, nil
}

// Close deletes all temp files owned by this credential set.
func (c *Credentials) Close() error {
	var firstErr error
	for slot, path := range c.owned {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
			klog.V(2).Infof("failed to remove %s file %s: %v", slot, path, err)
		}
	}
	c.owned = nil
	return firstErr
}

// snapshot returns a copy safe to hand to callers. The copy does not
// carry ownership of the temp files.
func (c *Credentials) snapshot() Credentials {
	out := *c
	out.owned = nil
	return out
}
