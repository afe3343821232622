// Copyright 2026 The Kubernetes Authors.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
	"k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
)

func fakeCommand(t *testing.T, stdout string, err error) (*fakeexec.FakeExec, *fakeexec.FakeCmd) {
	t.Helper()
	fcmd := &fakeexec.FakeCmd{
		OutputScript: []fakeexec.FakeAction{
			func() ([]byte, []byte, error) { return []byte(stdout), nil, err },
		},
	}
	fex := &fakeexec.FakeExec{
		CommandScript: []fakeexec.FakeCommandAction{
			func(cmd string, args ...string) exec.Cmd {
				return fakeexec.InitFakeCmd(fcmd, cmd, args...)
			},
		},
	}
	return fex, fcmd
}

func TestSnapshotStatic(t *testing.T) {
	r := NewResolver(Credentials{Server: "https://example:6443", Token: "tok"})
	creds, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.Token)
	assert.Equal(t, ProviderStatic, creds.Provider)

	// Static credentials never refresh, even when expired.
	r.creds.Expiry = 1
	_, err = r.Snapshot()
	require.NoError(t, err)
}

func TestAuthProviderRefresh(t *testing.T) {
	out := `{"credential":{"access_token":"fresh-token","token_expiry":"2026-08-06T12:00:00Z"}}`

	testCases := map[string]struct {
		spec        AuthProviderSpec
		stdout      string
		cmdErr      error
		expectToken string
		expectUnix  int64
		errContains string
	}{
		"token and expiry": {
			spec: AuthProviderSpec{
				Name:      "gcp",
				CmdPath:   "/usr/bin/gcloud",
				CmdArgs:   "config config-helper --format=json",
				TokenKey:  "{.credential.access_token}",
				ExpiryKey: "{.credential.token_expiry}",
			},
			stdout:      out,
			expectToken: "fresh-token",
			expectUnix:  time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC).Unix(),
		},
		"missing expiry key means never expiring": {
			spec: AuthProviderSpec{
				CmdPath:  "/usr/bin/helper",
				TokenKey: "{.credential.access_token}",
			},
			stdout:      out,
			expectToken: "fresh-token",
			expectUnix:  0,
		},
		"missing token path": {
			spec: AuthProviderSpec{
				CmdPath:  "/usr/bin/helper",
				TokenKey: "{.credential.nope}",
			},
			stdout:      out,
			errContains: "token path {.credential.nope} not found",
		},
		"command failure": {
			spec: AuthProviderSpec{
				CmdPath:  "/usr/bin/helper",
				TokenKey: "{.credential.access_token}",
			},
			stdout:      "boom",
			cmdErr:      fmt.Errorf("exit status 1"),
			errContains: "command failed",
		},
		"non-json output": {
			spec: AuthProviderSpec{
				CmdPath:  "/usr/bin/helper",
				TokenKey: "{.credential.access_token}",
			},
			stdout:      "not json",
			errContains: "output is not JSON",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			fex, fcmd := fakeCommand(t, tc.stdout, tc.cmdErr)
			r := NewResolver(Credentials{Server: "https://example:6443"},
				WithAuthProvider(tc.spec), WithExecer(fex))

			creds, err := r.Snapshot()
			if tc.errContains != "" {
				require.Error(t, err)
				assert.IsType(t, RefreshError{}, err)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectToken, creds.Token)
			assert.Equal(t, tc.expectUnix, creds.Expiry)
			assert.Len(t, fcmd.CombinedOutputLog, 0)
		})
	}
}

func TestAuthProviderRefreshOnExpiry(t *testing.T) {
	now := time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC)
	fc := clocktesting.NewFakePassiveClock(now)

	fex, _ := fakeCommand(t, `{"credential":{"access_token":"new"}}`, nil)
	r := NewResolver(
		Credentials{Server: "https://example:6443", Token: "old", Expiry: now.Unix() - 1},
		WithAuthProvider(AuthProviderSpec{CmdPath: "/usr/bin/helper", TokenKey: "{.credential.access_token}"}),
		WithExecer(fex), WithClock(fc))

	creds, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "new", creds.Token)

	// The refreshed token has no expiry, so no further command runs.
	creds, err = r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "new", creds.Token)
}

func TestExecProviderRefresh(t *testing.T) {
	execOut := `{
		"kind": "ExecCredential",
		"apiVersion": "client.authentication.k8s.io/v1beta1",
		"status": {
			"token": "exec-token",
			"clientCertificateData": "CERT PEM",
			"clientKeyData": "KEY PEM",
			"expirationTimestamp": "2026-08-06T12:00:00Z"
		}
	}`

	fex, _ := fakeCommand(t, execOut, nil)
	r := NewResolver(Credentials{Server: "https://example:6443"},
		WithExecProvider(ExecSpec{
			APIVersion: "client.authentication.k8s.io/v1beta1",
			Command:    "/usr/local/bin/authenticator",
			Args:       []string{"token"},
			Env:        []string{"REGION=eu-west-1"},
		}),
		WithExecer(fex))
	defer func() { require.NoError(t, r.Close()) }()

	creds, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "exec-token", creds.Token)
	assert.Equal(t, time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC).Unix(), creds.Expiry)

	cert, err := os.ReadFile(creds.CertFile)
	require.NoError(t, err)
	assert.Equal(t, "CERT PEM", string(cert))
	key, err := os.ReadFile(creds.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, "KEY PEM", string(key))

	// Close deletes the temp-file-backed material.
	require.NoError(t, r.Close())
	_, err = os.Stat(creds.CertFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(creds.KeyFile)
	assert.True(t, os.IsNotExist(err))
}

func TestExecProviderRejectsWrongEnvelope(t *testing.T) {
	testCases := map[string]struct {
		stdout      string
		errContains string
	}{
		"wrong kind": {
			stdout:      `{"kind":"Secret","apiVersion":"client.authentication.k8s.io/v1beta1","status":{"token":"x"}}`,
			errContains: `unexpected kind "Secret"`,
		},
		"wrong apiVersion": {
			stdout:      `{"kind":"ExecCredential","apiVersion":"v1","status":{"token":"x"}}`,
			errContains: `unexpected apiVersion "v1"`,
		},
		"empty status": {
			stdout:      `{"kind":"ExecCredential","apiVersion":"client.authentication.k8s.io/v1beta1","status":{}}`,
			errContains: "neither token nor client certificate",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			fex, _ := fakeCommand(t, tc.stdout, nil)
			r := NewResolver(Credentials{},
				WithExecProvider(ExecSpec{Command: "/bin/authenticator"}),
				WithExecer(fex))
			_, err := r.Snapshot()
			require.Error(t, err)
			assert.IsType(t, RefreshError{}, err)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}

func TestWriteOwnedFileReplacesPrevious(t *testing.T) {
	creds := Credentials{}
	first, err := creds.WriteOwnedFile("cert", []byte("one"))
	require.NoError(t, err)
	second, err := creds.WriteOwnedFile("cert", []byte("two"))
	require.NoError(t, err)
	defer func() { require.NoError(t, creds.Close()) }()

	assert.NotEqual(t, first, second)
	_, err = os.Stat(first)
	assert.True(t, os.IsNotExist(err), "replaced file should be deleted")
	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
