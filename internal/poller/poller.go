// Package poller queries every server in the fleet for active playback
// sessions and publishes the normalised batch.
package poller

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"argus/internal/config"
	"argus/internal/events"
	"argus/internal/fleet"
	"argus/internal/media/plex"
	"argus/internal/models"
)

// GeoLookup resolves a client address; nil means no data.
type GeoLookup interface {
	Lookup(addr string) *models.GeoResult
}

type Poller struct {
	fleet     fleet.Reader
	publisher events.Publisher

	interval            time.Duration
	queryTimeout        time.Duration
	concurrency         int
	posterWidth         int
	includeWithoutMedia bool
	realtime            bool
	geo                 GeoLookup

	mu       sync.RWMutex
	sessions []models.SessionRecord
	lastPoll time.Time

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	wsMu     sync.Mutex
	wsCancel map[models.DiscoveredServer]context.CancelFunc

	rtLimit   *rate.Limiter
	rtPending atomic.Bool

	triggerPoll chan struct{}
	pollNotify  chan struct{}
}

type Option func(*Poller)

// WithGeoIP enriches records with the client's city and country.
func WithGeoIP(g GeoLookup) Option {
	return func(p *Poller) {
		p.geo = g
	}
}

func New(cfg config.Config, fr fleet.Reader, pub events.Publisher, opts ...Option) *Poller {
	p := &Poller{
		fleet:               fr,
		publisher:           pub,
		interval:            cfg.PollInterval,
		queryTimeout:        cfg.QueryTimeout,
		concurrency:         max(cfg.PollConcurrency, 1),
		posterWidth:         cfg.PosterWidth,
		includeWithoutMedia: cfg.IncludeSessionsWithoutMedia,
		realtime:            cfg.Realtime,
		sessions:            []models.SessionRecord{},
		wsCancel:            make(map[models.DiscoveredServer]context.CancelFunc),
		rtLimit:             rate.NewLimiter(rate.Every(max(cfg.RealtimeMinInterval, time.Millisecond)), 1),
		triggerPoll:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		p.mu.Lock()
		p.ctx = ctx
		p.mu.Unlock()
		p.done = make(chan struct{})
		go p.run(ctx)
	})
}

func (p *Poller) Stop() {
	if p.cancel != nil && p.done != nil {
		p.cancel()
		<-p.done
	}
}

// Trigger asks the run loop for an immediate poll. Requests made while one
// is already pending are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.triggerPoll <- struct{}{}:
	default:
	}
}

// CurrentSessions returns the batch produced by the last poll.
func (p *Poller) CurrentSessions() []models.SessionRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.SessionRecord, len(p.sessions))
	copy(out, p.sessions)
	return out
}

func (p *Poller) LastPoll() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPoll
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.stopWatchers()

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			p.pollOnce(ctx)
		case <-p.triggerPoll:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	p.Poll(ctx)
	if p.realtime {
		p.syncWatchers(p.fleet.Current())
	}
	if p.pollNotify != nil {
		select {
		case p.pollNotify <- struct{}{}:
		default:
		}
	}
}

// Poll queries every fleet server once and publishes the combined batch,
// even when it is empty. A failing server is logged and skipped.
func (p *Poller) Poll(ctx context.Context) []models.SessionRecord {
	servers := p.fleet.Current()
	perServer := make([][]models.SessionRecord, len(servers))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, srv := range servers {
		g.Go(func() error {
			records, err := p.queryServer(ctx, srv)
			if err != nil {
				log.Printf("poller: %v", err)
				return nil
			}
			perServer[i] = records
			return nil
		})
	}
	g.Wait()

	batch := []models.SessionRecord{}
	for _, records := range perServer {
		batch = append(batch, records...)
	}

	p.mu.Lock()
	p.sessions = batch
	p.lastPoll = time.Now().UTC()
	p.mu.Unlock()

	p.publisher.Publish(models.EventSessionUpdate, batch)
	return batch
}

func (p *Poller) queryServer(ctx context.Context, srv models.DiscoveredServer) ([]models.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	client := plex.New(srv, p.queryTimeout)
	sessions, err := client.GetSessions(ctx)
	if err != nil {
		return nil, &models.ServerQueryError{Server: srv.Name, URL: srv.URL, Err: err}
	}

	records := make([]models.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		if s.Media == nil && !p.includeWithoutMedia {
			continue
		}
		records = append(records, p.normalize(client, srv.Name, s))
	}
	return records, nil
}

func (p *Poller) normalize(client *plex.Server, serverName string, s plex.Session) models.SessionRecord {
	rec := models.SessionRecord{
		Server:            serverName,
		User:              models.UnknownValue,
		State:             models.ParseSessionState(s.State),
		BandwidthKbps:     s.BandwidthKbps,
		TranscodeDecision: models.TranscodeDirectPlay,
		ClientIP:          models.UnknownValue,
	}
	if len(s.Usernames) > 0 {
		rec.User = s.Usernames[0]
	}
	if t := s.Transcode; t != nil {
		switch {
		case t.VideoDecision != "":
			rec.TranscodeDecision = t.VideoDecision
		case t.AudioDecision != "":
			rec.TranscodeDecision = t.AudioDecision
		}
	}
	if s.HasPlayer && s.PlayerAddress != "" {
		rec.ClientIP = s.PlayerAddress
	}
	if m := s.Media; m != nil {
		rec.Title = m.Title
		rec.MediaType = m.Type
		rec.PosterURL = client.TranscodeImageURL(m.Thumb, p.posterWidth)
	}
	if p.geo != nil && rec.ClientIP != models.UnknownValue {
		if geo := p.geo.Lookup(rec.ClientIP); geo != nil {
			rec.City = geo.City
			rec.Country = geo.Country
		}
	}
	return rec
}

// syncWatchers keeps one notification subscription per fleet server.
func (p *Poller) syncWatchers(servers models.Fleet) {
	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	want := make(map[models.DiscoveredServer]struct{}, len(servers))
	for _, srv := range servers {
		want[srv] = struct{}{}
	}

	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	for srv, cancel := range p.wsCancel {
		if _, ok := want[srv]; !ok {
			cancel()
			delete(p.wsCancel, srv)
		}
	}
	for srv := range want {
		if _, ok := p.wsCancel[srv]; ok {
			continue
		}
		wsCtx, cancel := context.WithCancel(ctx)
		p.wsCancel[srv] = cancel
		go p.consumeUpdates(wsCtx, srv)
	}
}

func (p *Poller) consumeUpdates(ctx context.Context, srv models.DiscoveredServer) {
	for tr := range plex.New(srv, p.queryTimeout).WatchTransitions(ctx) {
		log.Printf("poller: %s session %s %s -> %s", srv.Name, tr.SessionKey, stateOrNew(tr.From), tr.To)
		p.realtimeTrigger()
	}
}

// realtimeTrigger schedules a poll no sooner than the realtime interval after
// the previous one. Transitions arriving while a poll is scheduled join it.
func (p *Poller) realtimeTrigger() {
	if !p.rtPending.CompareAndSwap(false, true) {
		return
	}
	time.AfterFunc(p.rtLimit.Reserve().Delay(), func() {
		p.rtPending.Store(false)
		p.Trigger()
	})
}

func stateOrNew(s string) string {
	if s == "" {
		return "new"
	}
	return s
}

func (p *Poller) stopWatchers() {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	for srv, cancel := range p.wsCancel {
		cancel()
		delete(p.wsCancel, srv)
	}
}
