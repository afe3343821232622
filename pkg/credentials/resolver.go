// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"k8s.io/utils/exec"

	"sigs.k8s.io/streamclient/pkg/jsonpath"
)

const execCredentialAPIVersion = "client.authentication.k8s.io/v1beta1"

// RefreshError indicates an auth-provider or exec-provider command
// failed or returned invalid data.
type RefreshError struct {
	Command string
	Output  string
	Reason  string
	Err     error
}

func (e RefreshError) Error() string {
	msg := fmt.Sprintf("credential refresh via %q failed: %s", e.Command, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += fmt.Sprintf(" (output: %s)", e.Output)
	}
	return msg
}

func (e RefreshError) Unwrap() error { return e.Err }

// AuthProviderSpec configures legacy auth-provider refresh: an external
// command whose JSON stdout carries the token at a configured path.
type AuthProviderSpec struct {
	Name    string
	CmdPath string
	CmdArgs string
	// TokenKey and ExpiryKey are kubeconfig brace-delimited paths,
	// e.g. "{.credential.access_token}".
	TokenKey  string
	ExpiryKey string
}

// ExecSpec configures exec-provider refresh per the client
// authentication v1beta1 contract.
type ExecSpec struct {
	APIVersion string
	Command    string
	Args       []string
	Env        []string
	// Dir is the directory of the kubeconfig this block came from;
	// relative commands containing a path separator resolve against it.
	Dir string
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

func WithAuthProvider(spec AuthProviderSpec) ResolverOption {
	return func(r *Resolver) {
		r.authProvider = &spec
		r.creds.Provider = ProviderAuth
	}
}

func WithExecProvider(spec ExecSpec) ResolverOption {
	return func(r *Resolver) {
		r.execProvider = &spec
		r.creds.Provider = ProviderExec
	}
}

// WithExecer substitutes the command runner, for tests.
func WithExecer(execer exec.Interface) ResolverOption {
	return func(r *Resolver) { r.execer = execer }
}

// WithClock substitutes the time source, for tests.
func WithClock(c clock.PassiveClock) ResolverOption {
	return func(r *Resolver) { r.clock = c }
}

// Resolver owns a credential set and refreshes it when it expires. All
// mutation happens under a single writer lock so Snapshot never
// observes a half-refreshed state.
type Resolver struct {
	mu           sync.Mutex
	creds        Credentials
	authProvider *AuthProviderSpec
	execProvider *ExecSpec
	execer       exec.Interface
	clock        clock.PassiveClock
}

func NewResolver(creds Credentials, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		creds:  creds,
		execer: exec.New(),
		clock:  clock.RealClock{},
	}
	if r.creds.Provider == "" {
		r.creds.Provider = ProviderStatic
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns current, valid credentials, refreshing first when
// the expiry has passed or no token is present but a provider is
// configured.
func (r *Resolver) Snapshot() (Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.needsRefresh() {
		if err := r.refresh(); err != nil {
			return Credentials{}, err
		}
	}
	return r.creds.snapshot(), nil
}

// Close releases temp files owned by the underlying credentials.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds.Close()
}

func (r *Resolver) needsRefresh() bool {
	if r.authProvider == nil && r.execProvider == nil {
		return false
	}
	if r.creds.Token == "" {
		return true
	}
	return r.creds.Expiry != 0 && r.clock.Now().Unix() >= r.creds.Expiry
}

func (r *Resolver) refresh() error {
	if r.execProvider != nil {
		return r.refreshExec()
	}
	return r.refreshAuthProvider()
}

func (r *Resolver) refreshAuthProvider() error {
	spec := r.authProvider
	var args []string
	if spec.CmdArgs != "" {
		args = strings.Fields(spec.CmdArgs)
	}
	klog.V(4).Infof("refreshing credentials via auth-provider %q", spec.Name)
	out, err := r.execer.Command(spec.CmdPath, args...).Output()
	if err != nil {
		return RefreshError{Command: spec.CmdPath, Output: string(out), Reason: "command failed", Err: err}
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		return RefreshError{Command: spec.CmdPath, Output: string(out), Reason: "output is not JSON", Err: err}
	}

	token, ok := lookupKey(doc, spec.TokenKey)
	if !ok {
		return RefreshError{Command: spec.CmdPath, Output: string(out), Reason: fmt.Sprintf("token path %s not found", spec.TokenKey)}
	}
	tokenStr, ok := token.(string)
	if !ok || tokenStr == "" {
		return RefreshError{Command: spec.CmdPath, Output: string(out), Reason: fmt.Sprintf("token path %s is not a string", spec.TokenKey)}
	}
	r.creds.Token = tokenStr

	// A missing expiry means the token never expires.
	r.creds.Expiry = 0
	if spec.ExpiryKey != "" {
		if v, ok := lookupKey(doc, spec.ExpiryKey); ok {
			if unix, ok := parseExpiry(v); ok {
				r.creds.Expiry = unix
			}
		}
	}
	return nil
}

func (r *Resolver) refreshExec() error {
	spec := r.execProvider
	command := spec.Command
	if !filepath.IsAbs(command) && strings.ContainsRune(command, filepath.Separator) && spec.Dir != "" {
		command = filepath.Join(spec.Dir, command)
	}
	klog.V(4).Infof("refreshing credentials via exec command %q", command)
	cmd := r.execer.Command(command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.SetEnv(append(os.Environ(), spec.Env...))
	}
	out, err := cmd.Output()
	if err != nil {
		return RefreshError{Command: command, Output: string(out), Reason: "command failed", Err: err}
	}

	var cred struct {
		Kind       string `json:"kind"`
		APIVersion string `json:"apiVersion"`
		Status     struct {
			Token                 string `json:"token"`
			ClientCertificateData string `json:"clientCertificateData"`
			ClientKeyData         string `json:"clientKeyData"`
			ExpirationTimestamp   string `json:"expirationTimestamp"`
		} `json:"status"`
	}
	if err := json.Unmarshal(out, &cred); err != nil {
		return RefreshError{Command: command, Output: string(out), Reason: "output is not JSON", Err: err}
	}
	if cred.Kind != "ExecCredential" {
		return RefreshError{Command: command, Output: string(out), Reason: fmt.Sprintf("unexpected kind %q", cred.Kind)}
	}
	if cred.APIVersion != execCredentialAPIVersion {
		return RefreshError{Command: command, Output: string(out), Reason: fmt.Sprintf("unexpected apiVersion %q", cred.APIVersion)}
	}
	if cred.Status.Token == "" && cred.Status.ClientCertificateData == "" {
		return RefreshError{Command: command, Output: string(out), Reason: "status carries neither token nor client certificate"}
	}

	r.creds.Token = cred.Status.Token
	if cred.Status.ClientCertificateData != "" {
		path, err := r.creds.WriteOwnedFile("cert", []byte(cred.Status.ClientCertificateData))
		if err != nil {
			return err
		}
		r.creds.CertFile = path
	}
	if cred.Status.ClientKeyData != "" {
		path, err := r.creds.WriteOwnedFile("key", []byte(cred.Status.ClientKeyData))
		if err != nil {
			return err
		}
		r.creds.KeyFile = path
	}
	r.creds.Expiry = 0
	if cred.Status.ExpirationTimestamp != "" {
		ts, err := time.Parse(time.RFC3339, cred.Status.ExpirationTimestamp)
		if err != nil {
			return RefreshError{Command: command, Output: string(out), Reason: "invalid expirationTimestamp", Err: err}
		}
		r.creds.Expiry = ts.Unix()
	}
	return nil
}

// lookupKey evaluates a kubeconfig brace-delimited path such as
// "{.credential.access_token}" against the document.
func lookupKey(doc map[string]any, key string) (any, bool) {
	expr := strings.TrimSpace(key)
	expr = strings.TrimPrefix(expr, "{")
	expr = strings.TrimSuffix(expr, "}")
	if !strings.HasPrefix(expr, ".") {
		expr = "." + expr
	}
	values, err := jsonpath.Get(doc, "$"+expr)
	if err != nil || len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

// parseExpiry accepts RFC3339 strings and unix-second numbers.
func parseExpiry(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.Unix(), true
		}
		if unix, err := strconv.ParseInt(t, 10, 64); err == nil {
			return unix, true
		}
	case float64:
		return int64(t), true
	}
	return 0, false
}
