// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

// Package transport performs HTTP interactions with the API server,
// either fully buffered or streaming, carrying the TLS and auth context
// from a credential source.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"sigs.k8s.io/streamclient/pkg/credentials"
)

// CredentialSource supplies current credentials per request.
type CredentialSource interface {
	Snapshot() (credentials.Credentials, error)
}

// OpenError indicates a request or stream could not be established:
// DNS, TLS handshake, connection refused, or a non-2xx answer on a
// streaming GET.
type OpenError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e OpenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("opening %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("opening %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e OpenError) Unwrap() error { return e.Err }

// ReadError indicates an unrecoverable stream read failure, distinct
// from a read that merely timed out without bytes.
type ReadError struct {
	Err error
}

func (e ReadError) Error() string {
	return fmt.Sprintf("stream read failed: %v", e.Err)
}

func (e ReadError) Unwrap() error { return e.Err }

// Verb tokens accepted by Request. The PATCH pseudo-verbs all map to
// the PATCH wire method with distinct content types.
const (
	VerbGet                 = "GET"
	VerbPost                = "POST"
	VerbPut                 = "PUT"
	VerbDelete              = "DELETE"
	VerbPatch               = "PATCH"
	VerbPatchMerge          = "PATCH-MERGE"
	VerbPatchJSON           = "PATCH-JSON"
	VerbPatchStrategicMerge = "PATCH-STRATEGIC-MERGE"
	VerbPatchApply          = "PATCH-APPLY"
)

// ResolveVerb maps a verb token to its wire method and content type.
func ResolveVerb(verb string) (method, contentType string, err error) {
	switch verb {
	case VerbGet, VerbPost, VerbPut, VerbDelete:
		return verb, "application/json", nil
	case VerbPatch, VerbPatchMerge:
		return "PATCH", "application/merge-patch+json", nil
	case VerbPatchJSON:
		return "PATCH", "application/json-patch+json", nil
	case VerbPatchStrategicMerge:
		return "PATCH", "application/strategic-merge-patch+json", nil
	case VerbPatchApply:
		return "PATCH", "application/apply-patch+yaml", nil
	default:
		return "", "", fmt.Errorf("unsupported verb %q", verb)
	}
}

// BuildURL joins the server base, endpoint, and query parameters. When
// the endpoint already carries a query component (or a trailing "?"),
// parameters are appended with "&".
func BuildURL(server, endpoint string, params url.Values) string {
	raw := server + endpoint
	if len(params) == 0 {
		return raw
	}
	sep := "?"
	if strings.HasSuffix(endpoint, "?") {
		sep = "&"
	} else if u, err := url.Parse(endpoint); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return raw + sep + params.Encode()
}

// Response is one fully buffered HTTP answer. Non-2xx statuses are not
// errors at this layer; callers inspect kind:Status payloads themselves.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport issues requests using credentials from its source. The
// underlying HTTP client is rebuilt whenever the TLS material changes.
type Transport struct {
	source CredentialSource

	mu     sync.Mutex
	client *http.Client
	tlsKey string
}

func New(source CredentialSource) *Transport {
	return &Transport{source: source}
}

// Request performs one buffered HTTP interaction. The body is
// serialized as JSON, except for PATCH-APPLY where it is YAML; []byte
// and string bodies pass through untouched.
func (t *Transport) Request(ctx context.Context, verb, endpoint string, params url.Values, body any) (*Response, error) {
	method, contentType, err := ResolveVerb(verb)
	if err != nil {
		return nil, err
	}
	creds, err := t.source.Snapshot()
	if err != nil {
		return nil, err
	}
	payload, err := encodeBody(verb, body)
	if err != nil {
		return nil, err
	}

	u := BuildURL(creds.Server, endpoint, params)
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, OpenError{URL: u, Err: err}
	}
	setHeaders(req, creds, payload != nil, contentType)

	client, err := t.httpClient(creds)
	if err != nil {
		return nil, err
	}
	klog.V(6).Infof("%s %s", method, u)
	resp, err := client.Do(req)
	if err != nil {
		return nil, OpenError{URL: u, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ReadError{Err: err}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// OpenStream starts a streaming GET and returns the open stream. Reads
// on the stream observe the supplied per-read timeout: a timeout with
// no data yields an empty chunk, not an error.
func (t *Transport) OpenStream(ctx context.Context, endpoint string, params url.Values, readTimeout time.Duration) (*Stream, error) {
	creds, err := t.source.Snapshot()
	if err != nil {
		return nil, err
	}
	u := BuildURL(creds.Server, endpoint, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, OpenError{URL: u, Err: err}
	}
	setHeaders(req, creds, false, "")

	tlsConfig, err := tlsConfigFor(creds)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:       tlsConfig,
			DisableKeepAlives:     true,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
	klog.V(6).Infof("GET %s (streaming)", u)
	resp, err := client.Do(req)
	if err != nil {
		return nil, OpenError{URL: u, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, OpenError{URL: u, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return newStream(resp.Body, readTimeout), nil
}

func setHeaders(req *http.Request, creds credentials.Credentials, hasBody bool, contentType string) {
	req.Header.Set("Accept", "application/json, */*")
	req.Header.Set("Content-Encoding", "gzip")
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}
	if hasBody && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
}

func encodeBody(verb string, body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	if verb == VerbPatchApply {
		data, err := yaml.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding apply patch: %w", err)
		}
		return data, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return data, nil
}

// httpClient returns the cached buffered-request client, rebuilding it
// when the credential TLS material has changed.
func (t *Transport) httpClient(creds credentials.Credentials) (*http.Client, error) {
	key := strings.Join([]string{creds.CAFile, creds.CertFile, creds.KeyFile,
		fmt.Sprintf("%t", creds.VerifyPeerName)}, "|")
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil && t.tlsKey == key {
		return t.client, nil
	}
	tlsConfig, err := tlsConfigFor(creds)
	if err != nil {
		return nil, err
	}
	t.client = &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}
	t.tlsKey = key
	return t.client, nil
}

func tlsConfigFor(creds credentials.Credentials) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !creds.VerifyPeerName, //nolint:gosec
	}
	if creds.CAFile != "" {
		pem, err := os.ReadFile(creds.CAFile)
		if err != nil {
			return nil, OpenError{URL: creds.Server, Err: fmt.Errorf("reading CA file: %w", err)}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, OpenError{URL: creds.Server, Err: fmt.Errorf("no certificates in CA file %s", creds.CAFile)}
		}
		cfg.RootCAs = pool
	}
	if creds.CertFile != "" && creds.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(creds.CertFile, creds.KeyFile)
		if err != nil {
			return nil, OpenError{URL: creds.Server, Err: fmt.Errorf("loading client keypair: %w", err)}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
