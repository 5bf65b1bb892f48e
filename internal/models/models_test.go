package models

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestNodeValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantErr string
	}{
		{"remote ok", Node{Name: "a", IP: "10.0.0.1", Port: 22, Paths: []string{"/srv"}}, ""},
		{"local without port", Node{Name: "a", IP: "10.0.0.1", LocalAccess: true, Paths: []string{"/srv"}}, ""},
		{"missing name", Node{IP: "10.0.0.1", Port: 22, Paths: []string{"/srv"}}, "name"},
		{"missing ip", Node{Name: "a", Port: 22, Paths: []string{"/srv"}}, "ip"},
		{"no paths", Node{Name: "a", IP: "10.0.0.1", Port: 22}, "path"},
		{"remote without port", Node{Name: "a", IP: "10.0.0.1", Paths: []string{"/srv"}}, "port"},
		{"port too large", Node{Name: "a", IP: "10.0.0.1", Port: 70000, Paths: []string{"/srv"}}, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseSessionState(t *testing.T) {
	tests := map[string]SessionState{
		"playing":   SessionStatePlaying,
		"paused":    SessionStatePaused,
		"buffering": SessionStateBuffering,
		"stopped":   SessionStateUnknown,
		"":          SessionStateUnknown,
		"PLAYING":   SessionStateUnknown,
	}
	for in, want := range tests {
		if got := ParseSessionState(in); got != want {
			t.Errorf("ParseSessionState(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFleetCloneAndRedacted(t *testing.T) {
	f := Fleet{{Name: "a", URL: "http://a/", Token: "secret"}, {Name: "b", URL: "http://b/"}}

	c := f.Clone()
	c[0].Token = "changed"
	if f[0].Token != "secret" {
		t.Fatal("Clone shares backing array")
	}

	r := f.Redacted()
	if r[0].Token != "********" || r[1].Token != "" {
		t.Errorf("Redacted() = %+v", r)
	}
	if f[0].Token != "secret" {
		t.Fatal("Redacted modified the original")
	}

	var empty Fleet
	if got := empty.Clone(); got == nil || len(got) != 0 {
		t.Errorf("nil Clone() = %#v, want empty non-nil", got)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := fs.ErrNotExist

	connErr := &ConnectError{Address: "10.0.0.1:22", Attempts: 3, Err: cause}
	if !errors.Is(connErr, fs.ErrNotExist) {
		t.Error("ConnectError does not unwrap")
	}
	if !strings.Contains(connErr.Error(), "10.0.0.1:22") || !strings.Contains(connErr.Error(), "3 attempts") {
		t.Errorf("ConnectError message = %q", connErr.Error())
	}

	mismatch := &TransferError{RemotePath: "/srv/Preferences.xml", SizeMismatch: true, Expected: 10, Actual: 4}
	if !strings.Contains(mismatch.Error(), "size mismatch") {
		t.Errorf("TransferError message = %q", mismatch.Error())
	}
	if !errors.Is(&TransferError{Err: cause}, fs.ErrNotExist) {
		t.Error("TransferError does not unwrap")
	}

	var wrapped error = &ServerQueryError{Server: "vault", URL: "http://x/", Err: cause}
	var sq *ServerQueryError
	if !errors.As(wrapped, &sq) || sq.Server != "vault" || !errors.Is(wrapped, fs.ErrNotExist) {
		t.Error("ServerQueryError not matched")
	}

	if msg := (&ExtractionError{Marker: "PlexOnlineToken"}).Error(); !strings.Contains(msg, "PlexOnlineToken") {
		t.Errorf("ExtractionError message = %q", msg)
	}
}
