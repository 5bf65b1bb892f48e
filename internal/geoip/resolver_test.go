package geoip

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupNilWhenNoDB(t *testing.T) {
	r := NewResolver("")
	if result := r.Lookup("8.8.8.8"); result != nil {
		t.Fatal("expected nil when DB path is empty")
	}
	if r.Enabled() {
		t.Fatal("resolver without a database should not be enabled")
	}
}

func TestLookupNilForUnknownAddress(t *testing.T) {
	r := NewResolver("")
	for _, addr := range []string{"", "unknown", "192.168.1.1", "127.0.0.1", "::"} {
		if result := r.Lookup(addr); result != nil {
			t.Errorf("Lookup(%q) = %+v, want nil", addr, result)
		}
	}
}

func TestLookupNilForBadDBPath(t *testing.T) {
	r := NewResolver("/nonexistent/GeoLite2-City.mmdb")
	if result := r.Lookup("8.8.8.8"); result != nil {
		t.Fatal("expected nil when DB file doesn't exist")
	}
}

func TestNewResolverCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mmdb")
	if err := os.WriteFile(path, []byte("not a database"), 0644); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(path)
	if r.Enabled() {
		t.Fatal("corrupt database should leave resolver disabled")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}
