package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"argus/internal/httputil"
	"argus/internal/models"
)

// Server is a client for one discovered Plex Media Server.
type Server struct {
	serverName string
	url        string
	token      string
	client     *http.Client
}

func New(srv models.DiscoveredServer, timeout time.Duration) *Server {
	return &Server{
		serverName: srv.Name,
		url:        strings.TrimRight(srv.URL, "/"),
		token:      srv.Token,
		client:     httputil.NewClientWithTimeout(timeout),
	}
}

// Session is one entry of /status/sessions with the fields the poller
// normalises. Media is nil when the entry carries no media metadata.
type Session struct {
	Usernames     []string
	State         string
	BandwidthKbps int64
	Transcode     *Transcode
	PlayerAddress string
	HasPlayer     bool
	Media         *Media
}

type Transcode struct {
	VideoDecision string
	AudioDecision string
}

type Media struct {
	Title string
	Thumb string
	Type  string
}

func (s *Server) GetSessions(ctx context.Context) ([]Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/status/sessions", nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	return parseSessions(body)
}

// TranscodeImageURL builds a URL that asks the server to scale the image at
// thumb to the given width.
func (s *Server) TranscodeImageURL(thumb string, width int) string {
	if thumb == "" {
		return ""
	}
	q := url.Values{}
	q.Set("url", thumb)
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(width*3/2))
	q.Set("minSize", "1")
	q.Set("upscale", "1")
	q.Set("X-Plex-Token", s.token)
	return s.url + "/photo/:/transcode?" + q.Encode()
}

func (s *Server) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", s.token)
	req.Header.Set("Accept", "application/xml")
}

type mediaContainer struct {
	XMLName xml.Name   `xml:"MediaContainer"`
	Size    int        `xml:"size,attr"`
	Videos  []plexItem `xml:"Video"`
	Tracks  []plexItem `xml:"Track"`
	Photos  []plexItem `xml:"Photo"`
}

type plexItem struct {
	SessionKey       string            `xml:"sessionKey,attr"`
	RatingKey        string            `xml:"ratingKey,attr"`
	Type             string            `xml:"type,attr"`
	Title            string            `xml:"title,attr"`
	Thumb            string            `xml:"thumb,attr"`
	Player           *player           `xml:"Player"`
	Session          session           `xml:"Session"`
	Users            []user            `xml:"User"`
	TranscodeSession *transcodeSession `xml:"TranscodeSession"`
}

type player struct {
	Title   string `xml:"title,attr"`
	Product string `xml:"product,attr"`
	Address string `xml:"address,attr"`
	State   string `xml:"state,attr"`
}

type session struct {
	ID        string `xml:"id,attr"`
	Bandwidth string `xml:"bandwidth,attr"`
	Location  string `xml:"location,attr"`
}

type user struct {
	ID    string `xml:"id,attr"`
	Title string `xml:"title,attr"`
}

type transcodeSession struct {
	VideoDecision string `xml:"videoDecision,attr"`
	AudioDecision string `xml:"audioDecision,attr"`
}

func parseSessions(data []byte) ([]Session, error) {
	var mc mediaContainer
	if err := xml.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("parsing plex XML: %w", err)
	}

	items := make([]plexItem, 0, len(mc.Videos)+len(mc.Tracks)+len(mc.Photos))
	items = append(items, mc.Videos...)
	items = append(items, mc.Tracks...)
	items = append(items, mc.Photos...)

	sessions := make([]Session, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, buildSession(item))
	}
	slog.Debug("plex: parsed sessions", "count", len(sessions))
	return sessions, nil
}

func buildSession(item plexItem) Session {
	s := Session{
		BandwidthKbps: atoi64(item.Session.Bandwidth),
	}
	for _, u := range item.Users {
		if u.Title != "" {
			s.Usernames = append(s.Usernames, u.Title)
		}
	}
	if item.Player != nil {
		s.HasPlayer = true
		s.State = item.Player.State
		s.PlayerAddress = item.Player.Address
	}
	if ts := item.TranscodeSession; ts != nil {
		s.Transcode = &Transcode{VideoDecision: ts.VideoDecision, AudioDecision: ts.AudioDecision}
	}
	if item.Title != "" && item.Type != "" {
		s.Media = &Media{Title: item.Title, Thumb: item.Thumb, Type: item.Type}
	}
	return s
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
