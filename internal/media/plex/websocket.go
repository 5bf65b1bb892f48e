package plex

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Playback states carried by "playing" notifications.
const (
	StatePlaying   = "playing"
	StatePaused    = "paused"
	StateBuffering = "buffering"
	StateStopped   = "stopped"
)

const (
	notificationsPath = "/:/websockets/notifications"

	watchPingEvery  = 10 * time.Second
	watchReadWait   = 25 * time.Second
	watchMinBackoff = time.Second
	watchMaxBackoff = 30 * time.Second
)

// Transition is a session moving from one playback state to another. From
// is empty for a session first seen on the current connection.
type Transition struct {
	SessionKey string
	From       string
	To         string
}

type notificationFrame struct {
	Container struct {
		Type   string `json:"type"`
		States []struct {
			SessionKey string `json:"sessionKey"`
			State      string `json:"state"`
		} `json:"PlaySessionStateNotification"`
	} `json:"NotificationContainer"`
}

// sessionStates is the last state seen per session key on one connection.
// Plex repeats the current state every few seconds as a progress report;
// only changes are passed on.
type sessionStates map[string]string

func (ss sessionStates) observe(key, state string) (Transition, bool) {
	prev, seen := ss[key]
	if state == StateStopped {
		delete(ss, key)
	} else {
		ss[key] = state
	}
	if seen && prev == state {
		return Transition{}, false
	}
	return Transition{SessionKey: key, From: prev, To: state}, true
}

// WatchTransitions streams playback state changes until ctx is cancelled.
// A dropped connection is redialled with exponential backoff; the returned
// channel is closed once ctx is done.
func (s *Server) WatchTransitions(ctx context.Context) <-chan Transition {
	out := make(chan Transition, 16)
	go s.watch(ctx, out)
	return out
}

func (s *Server) watch(ctx context.Context, out chan<- Transition) {
	defer close(out)
	backoff := watchMinBackoff
	for {
		delivered, err := s.watchConn(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			backoff = watchMinBackoff
		}
		log.Printf("plex: notifications %s: %v", s.serverName, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, watchMaxBackoff)
	}
}

// watchConn reads one connection until it fails. delivered reports whether
// any frame arrived, so a server that accepts and immediately drops keeps
// backing off.
func (s *Server) watchConn(ctx context.Context, out chan<- Transition) (delivered bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, notificationsURL(s.url), http.Header{"X-Plex-Token": {s.token}})
	if err != nil {
		return false, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(watchReadWait)) }
	extend("")
	conn.SetPongHandler(extend)

	quit := make(chan struct{})
	defer close(quit)
	go keepAlive(conn, quit)

	states := sessionStates{}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		delivered = true
		extend("")
		for _, tr := range states.apply(frame) {
			select {
			case out <- tr:
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		}
	}
}

// apply decodes a frame and returns the transitions it causes. Frames other
// than "playing" notifications are ignored.
func (ss sessionStates) apply(frame []byte) []Transition {
	var nf notificationFrame
	if err := json.Unmarshal(frame, &nf); err != nil || nf.Container.Type != "playing" {
		return nil
	}
	var changed []Transition
	for _, st := range nf.Container.States {
		if tr, ok := ss.observe(st.SessionKey, st.State); ok {
			changed = append(changed, tr)
		}
	}
	return changed
}

func keepAlive(conn *websocket.Conn, quit <-chan struct{}) {
	ticker := time.NewTicker(watchPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchPingEvery/2)); err != nil {
				return
			}
		}
	}
}

func notificationsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + notificationsPath
}
