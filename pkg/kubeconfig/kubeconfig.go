// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package kubeconfig loads cluster connection details from a kubeconfig
// file or from the in-cluster service account, and resolves them into
// credentials usable by the transport.
package kubeconfig

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"sigs.k8s.io/streamclient/pkg/credentials"
)

const (
	serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"
	defaultInCluster  = "https://kubernetes.default.svc"
)

// MissingError indicates no kubeconfig could be located and no
// in-cluster material exists.
type MissingError struct {
	Tried []string
}

func (e MissingError) Error() string {
	return fmt.Sprintf("no kubeconfig found (tried %v) and not running in-cluster", e.Tried)
}

// ParseError indicates the kubeconfig was unreadable, syntactically
// invalid, or missing a required field.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kubeconfig %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("kubeconfig %s: %s", e.Path, e.Reason)
}

func (e ParseError) Unwrap() error { return e.Err }

// Config is a parsed kubeconfig file.
type Config struct {
	Kind           string         `json:"kind,omitempty"`
	APIVersion     string         `json:"apiVersion,omitempty"`
	CurrentContext string         `json:"current-context,omitempty"`
	Clusters       []NamedCluster `json:"clusters,omitempty"`
	Contexts       []NamedContext `json:"contexts,omitempty"`
	Users          []NamedUser    `json:"users,omitempty"`

	// path is the file this config was read from; relative exec
	// command paths resolve against its directory.
	path string
}

type NamedCluster struct {
	Name    string  `json:"name"`
	Cluster Cluster `json:"cluster"`
}

type Cluster struct {
	Server                   string `json:"server"`
	CertificateAuthority     string `json:"certificate-authority,omitempty"`
	CertificateAuthorityData string `json:"certificate-authority-data,omitempty"`
	InsecureSkipTLSVerify    bool   `json:"insecure-skip-tls-verify,omitempty"`
}

type NamedContext struct {
	Name    string  `json:"name"`
	Context Context `json:"context"`
}

type Context struct {
	Cluster   string `json:"cluster"`
	User      string `json:"user"`
	Namespace string `json:"namespace,omitempty"`
}

type NamedUser struct {
	Name string `json:"name"`
	User User   `json:"user"`
}

type User struct {
	ClientCertificate     string        `json:"client-certificate,omitempty"`
	ClientCertificateData string        `json:"client-certificate-data,omitempty"`
	ClientKey             string        `json:"client-key,omitempty"`
	ClientKeyData         string        `json:"client-key-data,omitempty"`
	Token                 string        `json:"token,omitempty"`
	AuthProvider          *AuthProvider `json:"auth-provider,omitempty"`
	Exec                  *ExecConfig   `json:"exec,omitempty"`
}

type AuthProvider struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config,omitempty"`
}

type ExecConfig struct {
	APIVersion string    `json:"apiVersion,omitempty"`
	Command    string    `json:"command"`
	Args       []string  `json:"args,omitempty"`
	Env        []ExecEnv `json:"env,omitempty"`
}

type ExecEnv struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Locate returns the kubeconfig path using the standard precedence:
// the explicit argument, then $KUBECONFIG, then $HOME/.kube/config.
// The empty string is returned when none of them names an existing file.
func Locate(explicit string) (string, []string) {
	var tried []string
	for _, candidate := range []string{explicit, os.Getenv("KUBECONFIG"), homeConfig()} {
		if candidate == "" {
			continue
		}
		tried = append(tried, candidate)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, tried
		}
	}
	return "", tried
}

func homeConfig() string {
	home := os.Getenv("HOME")
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".kube", "config")
}

// Load reads and parses the kubeconfig at path. When path is empty the
// standard precedence applies, falling back to in-cluster discovery by
// the caller when MissingError is returned.
func Load(path string) (*Config, error) {
	resolved := path
	if resolved == "" {
		var tried []string
		resolved, tried = Locate("")
		if resolved == "" {
			return nil, MissingError{Tried: tried}
		}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, ParseError{Path: resolved, Reason: "read failed", Err: err}
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ParseError{Path: resolved, Reason: "invalid YAML", Err: err}
	}
	cfg.path = resolved
	klog.V(4).Infof("loaded kubeconfig from %s (%d contexts)", resolved, len(cfg.Contexts))
	return cfg, nil
}

// Context selects the named context, or current-context when name is
// empty, and returns its cluster and user entries.
func (c *Config) Context(name string) (Cluster, User, error) {
	if name == "" {
		name = c.CurrentContext
	}
	if name == "" {
		return Cluster{}, User{}, ParseError{Path: c.path, Reason: "no context selected and no current-context"}
	}
	var ctx *Context
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			ctx = &c.Contexts[i].Context
			break
		}
	}
	if ctx == nil {
		return Cluster{}, User{}, ParseError{Path: c.path, Reason: fmt.Sprintf("context %q not found", name)}
	}
	var cluster *Cluster
	for i := range c.Clusters {
		if c.Clusters[i].Name == ctx.Cluster {
			cluster = &c.Clusters[i].Cluster
			break
		}
	}
	if cluster == nil {
		return Cluster{}, User{}, ParseError{Path: c.path, Reason: fmt.Sprintf("cluster %q not found", ctx.Cluster)}
	}
	if cluster.Server == "" {
		return Cluster{}, User{}, ParseError{Path: c.path, Reason: fmt.Sprintf("cluster %q has no server", ctx.Cluster)}
	}
	var user User
	for i := range c.Users {
		if c.Users[i].Name == ctx.User {
			user = c.Users[i].User
			break
		}
	}
	return *cluster, user, nil
}

// Resolve builds a credential resolver for the named context. Inline
// base64 material is decoded into temp files owned by the returned
// resolver's credentials.
func (c *Config) Resolve(contextName string) (*credentials.Resolver, error) {
	cluster, user, err := c.Context(contextName)
	if err != nil {
		return nil, err
	}

	creds := credentials.Credentials{
		Server:         cluster.Server,
		Token:          user.Token,
		VerifyPeerName: !cluster.InsecureSkipTLSVerify,
	}

	write := func(field *string, b64, kind string) error {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return ParseError{Path: c.path, Reason: fmt.Sprintf("invalid base64 in %s", kind), Err: err}
		}
		path, err := creds.WriteOwnedFile(kind, data)
		if err != nil {
			return err
		}
		*field = path
		return nil
	}

	creds.CAFile = cluster.CertificateAuthority
	if cluster.CertificateAuthorityData != "" {
		if err := write(&creds.CAFile, cluster.CertificateAuthorityData, "ca"); err != nil {
			return nil, err
		}
	}
	creds.CertFile = user.ClientCertificate
	if user.ClientCertificateData != "" {
		if err := write(&creds.CertFile, user.ClientCertificateData, "cert"); err != nil {
			return nil, err
		}
	}
	creds.KeyFile = user.ClientKey
	if user.ClientKeyData != "" {
		if err := write(&creds.KeyFile, user.ClientKeyData, "key"); err != nil {
			return nil, err
		}
	}

	var opts []credentials.ResolverOption
	if user.AuthProvider != nil {
		ap, err := authProviderSpec(user.AuthProvider)
		if err != nil {
			return nil, ParseError{Path: c.path, Reason: "auth-provider", Err: err}
		}
		opts = append(opts, credentials.WithAuthProvider(ap))
	}
	if user.Exec != nil {
		spec := credentials.ExecSpec{
			APIVersion: user.Exec.APIVersion,
			Command:    user.Exec.Command,
			Args:       user.Exec.Args,
			Dir:        filepath.Dir(c.path),
		}
		for _, env := range user.Exec.Env {
			spec.Env = append(spec.Env, env.Name+"="+env.Value)
		}
		opts = append(opts, credentials.WithExecProvider(spec))
	}

	return credentials.NewResolver(creds, opts...), nil
}

func authProviderSpec(ap *AuthProvider) (credentials.AuthProviderSpec, error) {
	spec := credentials.AuthProviderSpec{
		Name:      ap.Name,
		CmdPath:   ap.Config["cmd-path"],
		CmdArgs:   ap.Config["cmd-args"],
		TokenKey:  ap.Config["token-key"],
		ExpiryKey: ap.Config["expiry-key"],
	}
	if spec.CmdPath == "" {
		return spec, fmt.Errorf("auth-provider %q has no cmd-path", ap.Name)
	}
	if spec.TokenKey == "" {
		return spec, fmt.Errorf("auth-provider %q has no token-key", ap.Name)
	}
	return spec, nil
}

// InCluster builds a resolver from the pod service account. Used when no
// kubeconfig file can be located.
func InCluster() (*credentials.Resolver, error) {
	tokenPath := filepath.Join(serviceAccountDir, "token")
	token, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, MissingError{Tried: []string{tokenPath}}
	}
	server := defaultInCluster
	if host := os.Getenv("KUBERNETES_SERVICE_HOST"); host != "" {
		port := os.Getenv("KUBERNETES_SERVICE_PORT")
		if port == "" {
			port = "443"
		}
		server = "https://" + host + ":" + port
	}
	creds := credentials.Credentials{
		Server:         server,
		Token:          string(token),
		CAFile:         filepath.Join(serviceAccountDir, "ca.crt"),
		VerifyPeerName: true,
	}
	klog.V(4).Infof("using in-cluster configuration for %s", server)
	return credentials.NewResolver(creds), nil
}

// Default resolves credentials with the full standard precedence:
// explicit path, $KUBECONFIG, $HOME/.kube/config, then in-cluster.
func Default(explicitPath, contextName string) (*credentials.Resolver, error) {
	cfg, err := Load(explicitPath)
	if err != nil {
		if _, missing := err.(MissingError); missing {
			return InCluster()
		}
		return nil, err
	}
	return cfg.Resolve(contextName)
}
