// Package credentials recovers a Plex server's base URL and access token
// from the contents of its Preferences.xml.
package credentials

import (
	"fmt"
	"os"
	"strings"

	"argus/internal/models"
)

const (
	TokenMarker = `PlexOnlineToken="`
	PortMarker  = `ManualPortMappingPort="`
)

type Credentials struct {
	URL   string
	Token string
}

// Extract locates the token and port attributes by literal marker and builds
// the server URL from the node address. On failure it returns the zero value
// and an *models.ExtractionError.
func Extract(content, address string) (Credentials, error) {
	token, ok := attribute(content, TokenMarker)
	if !ok {
		return Credentials{}, &models.ExtractionError{Marker: "PlexOnlineToken"}
	}
	port, ok := attribute(content, PortMarker)
	if !ok {
		return Credentials{}, &models.ExtractionError{Marker: "ManualPortMappingPort"}
	}
	return Credentials{
		URL:   fmt.Sprintf("http://%s:%s/", address, port),
		Token: token,
	}, nil
}

// ExtractFile reads path and runs Extract on its contents.
func ExtractFile(path, address string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Extract(string(data), address)
}

// attribute returns the text between marker and the next double quote. An
// empty value is returned as-is.
func attribute(content, marker string) (string, bool) {
	_, rest, found := strings.Cut(content, marker)
	if !found {
		return "", false
	}
	value, _, closed := strings.Cut(rest, `"`)
	if !closed {
		return "", false
	}
	return value, true
}
