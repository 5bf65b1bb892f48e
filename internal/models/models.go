package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Node is a configured host believed to run Plex Media Server.
type Node struct {
	Name        string   `yaml:"name" json:"name"`
	IP          string   `yaml:"ip" json:"ip"`
	Port        int      `yaml:"port" json:"port"`
	Paths       []string `yaml:"paths" json:"paths"`
	LocalAccess bool     `yaml:"local_access" json:"local_access"`
	User        string   `yaml:"user,omitempty" json:"user,omitempty"`
}

func (n *Node) Validate() error {
	if n.Name == "" {
		return errors.New("name is required")
	}
	if n.IP == "" {
		return errors.New("ip is required")
	}
	if len(n.Paths) == 0 {
		return errors.New("at least one path is required")
	}
	if !n.LocalAccess && (n.Port <= 0 || n.Port > 65535) {
		return errors.New("port must be between 1 and 65535 for remote nodes")
	}
	return nil
}

// DiscoveredServer is one Plex server found on a node. The same node may
// yield several entries, one per Preferences.xml.
type DiscoveredServer struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Fleet is the result of the last completed discovery pass.
type Fleet []DiscoveredServer

// Clone returns a copy that shares no backing array with f.
func (f Fleet) Clone() Fleet {
	out := make(Fleet, len(f))
	copy(out, f)
	return out
}

// Redacted returns a copy with tokens masked for display.
func (f Fleet) Redacted() Fleet {
	out := f.Clone()
	for i := range out {
		if out[i].Token != "" {
			out[i].Token = "********"
		}
	}
	return out
}

type SessionState string

const (
	SessionStatePlaying   SessionState = "playing"
	SessionStatePaused    SessionState = "paused"
	SessionStateBuffering SessionState = "buffering"
	SessionStateUnknown   SessionState = "unknown"
)

// ParseSessionState maps a Plex player state onto the known states.
func ParseSessionState(s string) SessionState {
	switch SessionState(s) {
	case SessionStatePlaying, SessionStatePaused, SessionStateBuffering:
		return SessionState(s)
	default:
		return SessionStateUnknown
	}
}

const (
	TranscodeDirectPlay = "Direct Play"
	UnknownValue        = "unknown"
)

// SessionRecord is a normalized snapshot of one active playback session.
type SessionRecord struct {
	Server            string       `json:"server"`
	User              string       `json:"user"`
	State             SessionState `json:"state"`
	BandwidthKbps     int64        `json:"bandwidth"`
	TranscodeDecision string       `json:"transcode"`
	ClientIP          string       `json:"ip_address"`
	Title             string       `json:"title"`
	PosterURL         string       `json:"poster"`
	MediaType         string       `json:"type"`
	City              string       `json:"city,omitempty"`
	Country           string       `json:"country,omitempty"`
}

type GeoResult struct {
	IP      string `json:"ip"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// DiscoveryRun records the outcome of one discovery cycle.
type DiscoveryRun struct {
	ID         int64        `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Servers    int          `json:"servers"`
	Status     RunStatus    `json:"status"`
	Error      string       `json:"error,omitempty"`
	Nodes      []NodeResult `json:"nodes"`
}

// NodeResult is the per-node part of a DiscoveryRun.
type NodeResult struct {
	Node    string `json:"node"`
	Servers int    `json:"servers"`
	Error   string `json:"error,omitempty"`
}

// Event names published to subscribers.
const (
	EventFleetUpdated  = "fleet_updated"
	EventSessionUpdate = "session_update"
)
