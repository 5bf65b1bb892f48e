package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"argus/internal/models"
)

const sessionsXML = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="4">
  <Video sessionKey="1" ratingKey="12345" type="movie" title="Inception" thumb="/library/metadata/12345/thumb/1690000000">
    <Media id="1" videoResolution="1080" container="mkv"/>
    <User id="1" title="alice"/>
    <Player address="192.168.1.10" product="Plex Web" title="Chrome" state="playing"/>
    <Session id="abc123" bandwidth="21000" location="lan"/>
    <TranscodeSession videoDecision="transcode" audioDecision="copy"/>
  </Video>
  <Video sessionKey="2" ratingKey="222" type="episode" title="Pilot" grandparentTitle="Show" thumb="/library/metadata/222/thumb/1">
    <User id="2" title="bob"/>
    <Player address="10.0.0.7" state="paused"/>
    <Session id="def456" bandwidth="8000"/>
  </Video>
  <Video sessionKey="3">
    <User id="3" title="carol"/>
    <Session id="ghi789" bandwidth="100"/>
  </Video>
  <Track sessionKey="4" ratingKey="444" type="track" title="Song" thumb="/library/metadata/440/thumb/1">
    <Player address="10.0.0.8" state="buffering"/>
    <TranscodeSession audioDecision="transcode"/>
  </Track>
</MediaContainer>`

func newTestPlex(t *testing.T, handler http.HandlerFunc) *Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(models.DiscoveredServer{Name: "vault", URL: ts.URL + "/", Token: "test-token"}, 5*time.Second)
}

func TestGetSessions(t *testing.T) {
	srv := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Token") != "test-token" {
			t.Error("missing plex token header")
		}
		if r.URL.Path != "/status/sessions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(sessionsXML))
	})

	sessions, err := srv.GetSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(sessions))
	}

	s := sessions[0]
	if len(s.Usernames) != 1 || s.Usernames[0] != "alice" {
		t.Errorf("usernames = %v, want [alice]", s.Usernames)
	}
	if s.State != "playing" {
		t.Errorf("state = %q, want playing", s.State)
	}
	if s.BandwidthKbps != 21000 {
		t.Errorf("bandwidth = %d, want 21000", s.BandwidthKbps)
	}
	if !s.HasPlayer || s.PlayerAddress != "192.168.1.10" {
		t.Errorf("player = %v %q", s.HasPlayer, s.PlayerAddress)
	}
	if s.Transcode == nil || s.Transcode.VideoDecision != "transcode" {
		t.Errorf("transcode = %+v", s.Transcode)
	}
	if s.Media == nil || s.Media.Title != "Inception" || s.Media.Type != "movie" {
		t.Fatalf("media = %+v", s.Media)
	}
	if s.Media.Thumb != "/library/metadata/12345/thumb/1690000000" {
		t.Errorf("thumb = %q", s.Media.Thumb)
	}

	if sessions[1].Transcode != nil {
		t.Error("expected no transcode for direct play session")
	}
	if sessions[1].Media.Title != "Pilot" {
		t.Errorf("episode title = %q, want Pilot", sessions[1].Media.Title)
	}

	if sessions[2].Media != nil {
		t.Errorf("expected no media info, got %+v", sessions[2].Media)
	}
	if sessions[2].HasPlayer {
		t.Error("expected no player")
	}

	track := sessions[3]
	if track.Usernames != nil {
		t.Errorf("usernames = %v, want none", track.Usernames)
	}
	if track.State != "buffering" || track.Media == nil || track.Media.Type != "track" {
		t.Errorf("track = %+v", track)
	}
}

func TestGetSessionsEmpty(t *testing.T) {
	srv := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<MediaContainer size="0"></MediaContainer>`))
	})
	sessions, err := srv.GetSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestGetSessionsUnauthorized(t *testing.T) {
	srv := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := srv.GetSessions(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestGetSessionsBadXML(t *testing.T) {
	srv := newTestPlex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<MediaContainer><Video"))
	})
	if _, err := srv.GetSessions(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTranscodeImageURL(t *testing.T) {
	srv := New(models.DiscoveredServer{Name: "vault", URL: "http://10.0.0.5:32400/", Token: "T1"}, time.Second)

	got := srv.TranscodeImageURL("/library/metadata/12345/thumb/169", 200)
	if !strings.HasPrefix(got, "http://10.0.0.5:32400/photo/:/transcode?") {
		t.Fatalf("unexpected prefix: %s", got)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	checks := map[string]string{
		"url":          "/library/metadata/12345/thumb/169",
		"width":        "200",
		"height":       "300",
		"minSize":      "1",
		"upscale":      "1",
		"X-Plex-Token": "T1",
	}
	for k, want := range checks {
		if q.Get(k) != want {
			t.Errorf("%s = %q, want %q", k, q.Get(k), want)
		}
	}

	if srv.TranscodeImageURL("", 200) != "" {
		t.Error("expected empty URL for empty thumb")
	}
}
