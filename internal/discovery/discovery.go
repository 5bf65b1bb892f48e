// Package discovery walks the configured nodes, pulls Plex Preferences.xml
// files off them and replaces the fleet with the credentials found.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"argus/internal/config"
	"argus/internal/credentials"
	"argus/internal/events"
	"argus/internal/fleet"
	"argus/internal/models"
	"argus/internal/remote"
	"argus/internal/transfer"
)

var ErrAlreadyRunning = errors.New("discovery already running")

// RunRecorder persists the outcome of each cycle.
type RunRecorder interface {
	InsertDiscoveryRun(ctx context.Context, run *models.DiscoveryRun) error
	PruneDiscoveryRuns(ctx context.Context, keep int) (int64, error)
}

type Cycle struct {
	cfg       config.Config
	connector remote.Connector
	fleet     fleet.Writer
	publisher events.Publisher
	recorder  RunRecorder
	retention int
	now       func() time.Time

	mu      sync.Mutex
	running atomic.Bool
}

type Option func(*Cycle)

// WithRecorder records every cycle and keeps the newest retention runs.
func WithRecorder(r RunRecorder, retention int) Option {
	return func(c *Cycle) {
		c.recorder = r
		c.retention = retention
	}
}

func New(cfg config.Config, connector remote.Connector, fw fleet.Writer, pub events.Publisher, opts ...Option) *Cycle {
	c := &Cycle{
		cfg:       cfg,
		connector: connector,
		fleet:     fw,
		publisher: pub,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cycle) Running() bool {
	return c.running.Load()
}

// Run performs one discovery cycle and returns the new fleet. Only one cycle
// runs at a time; a concurrent call returns ErrAlreadyRunning.
func (c *Cycle) Run(ctx context.Context) (models.Fleet, error) {
	if !c.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer c.mu.Unlock()
	return c.run(ctx)
}

// Start begins a cycle in the background. It returns ErrAlreadyRunning
// without starting anything if a cycle is in progress.
func (c *Cycle) Start(ctx context.Context) error {
	if !c.mu.TryLock() {
		return ErrAlreadyRunning
	}
	go func() {
		defer c.mu.Unlock()
		if _, err := c.run(ctx); err != nil {
			log.Printf("discovery: %v", err)
		}
	}()
	return nil
}

type nodeOutcome struct {
	servers []models.DiscoveredServer
	err     error
}

func (c *Cycle) run(ctx context.Context) (models.Fleet, error) {
	c.running.Store(true)
	defer c.running.Store(false)

	if c.cfg.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
		defer cancel()
	}

	run := &models.DiscoveryRun{StartedAt: c.now().UTC()}
	nodes := c.cfg.Nodes
	outcomes := make([]nodeOutcome, len(nodes))

	var g errgroup.Group
	g.SetLimit(max(c.cfg.DiscoveryConcurrency, 1))
	for i, n := range nodes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			servers, err := c.discoverNode(ctx, i, n)
			outcomes[i] = nodeOutcome{servers: servers, err: err}
			if err != nil {
				log.Printf("discovery: node %s: %v", n.Name, err)
			}
			return nil
		})
	}
	g.Wait()

	result := models.Fleet{}
	run.Nodes = make([]models.NodeResult, len(nodes))
	for i, n := range nodes {
		res := models.NodeResult{Node: n.Name, Servers: len(outcomes[i].servers)}
		if outcomes[i].err != nil {
			res.Error = outcomes[i].err.Error()
		}
		run.Nodes[i] = res
		result = append(result, outcomes[i].servers...)
	}
	run.Servers = len(result)

	if err := ctx.Err(); err != nil {
		c.record(ctx, run, models.RunStatusCancelled, err)
		return nil, err
	}

	if err := c.fleet.Replace(result); err != nil {
		err = fmt.Errorf("saving fleet: %w", err)
		c.record(ctx, run, models.RunStatusFailed, err)
		return nil, err
	}
	log.Printf("discovery: %d servers across %d nodes", len(result), len(nodes))

	if c.cfg.RedactFleetEvents {
		c.publisher.Publish(models.EventFleetUpdated, result.Redacted())
	} else {
		c.publisher.Publish(models.EventFleetUpdated, result)
	}
	c.record(ctx, run, models.RunStatusCompleted, nil)
	return result, nil
}

func (c *Cycle) record(ctx context.Context, run *models.DiscoveryRun, status models.RunStatus, err error) {
	run.FinishedAt = c.now().UTC()
	run.Status = status
	if err != nil {
		run.Error = err.Error()
	}
	if c.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := c.recorder.InsertDiscoveryRun(ctx, run); err != nil {
		log.Printf("discovery: recording run: %v", err)
		return
	}
	if c.retention > 0 {
		if _, err := c.recorder.PruneDiscoveryRuns(ctx, c.retention); err != nil {
			log.Printf("discovery: pruning runs: %v", err)
		}
	}
}

func (c *Cycle) discoverNode(ctx context.Context, nodeIndex int, n models.Node) ([]models.DiscoveredServer, error) {
	if n.LocalAccess {
		return c.discoverLocal(n)
	}
	staging := filepath.Join(c.cfg.StagingDir, stagingDirName(nodeIndex, n.Name))
	return c.discoverRemote(ctx, n, staging)
}

// discoverLocal checks <path>/<sub>/<preferences_path> for each immediate
// subdirectory of each configured path.
func (c *Cycle) discoverLocal(n models.Node) ([]models.DiscoveredServer, error) {
	var servers []models.DiscoveredServer
	var errs []error
	for _, p := range n.Paths {
		entries, err := os.ReadDir(p)
		if err != nil {
			log.Printf("discovery: node %s: path %s: %v", n.Name, p, err)
			errs = append(errs, fmt.Errorf("path %s: %w", p, err))
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			prefs := filepath.Join(p, e.Name(), c.cfg.PreferencesPath)
			if _, err := os.Stat(prefs); err != nil {
				continue
			}
			creds, err := credentials.ExtractFile(prefs, n.IP)
			if err != nil {
				log.Printf("discovery: node %s: skipping %s: %v", n.Name, prefs, err)
				continue
			}
			servers = append(servers, models.DiscoveredServer{Name: n.Name, URL: creds.URL, Token: creds.Token})
		}
	}
	return servers, errors.Join(errs...)
}

// discoverRemote stages candidates under staging. Cancelling ctx closes the
// session, which unblocks a stalled find or transfer.
func (c *Cycle) discoverRemote(ctx context.Context, n models.Node, staging string) ([]models.DiscoveredServer, error) {
	sess, err := c.connector.Connect(ctx, n.IP, n.Port, c.cfg.UserFor(n))
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	var servers []models.DiscoveredServer
	var errs []error
	index := 0
	for _, p := range n.Paths {
		if ctx.Err() != nil {
			break
		}
		candidates, err := sess.Run(ctx, remote.FindCommand(p, c.cfg.PreferencesName, c.cfg.SearchDepth))
		if err != nil {
			log.Printf("discovery: node %s: path %s: %v", n.Name, p, err)
			errs = append(errs, fmt.Errorf("path %s: %w", p, err))
			continue
		}
		for _, remotePath := range candidates {
			if ctx.Err() != nil {
				break
			}
			srv, err := c.fetchRemote(sess, n, remotePath, staging, index)
			index++
			if err != nil {
				var extractErr *models.ExtractionError
				if !errors.As(err, &extractErr) {
					errs = append(errs, fmt.Errorf("%s: %w", remotePath, err))
				}
				log.Printf("discovery: node %s: path %s: %v", n.Name, remotePath, err)
				continue
			}
			servers = append(servers, srv)
		}
	}
	if err := ctx.Err(); err != nil {
		return servers, err
	}
	return servers, errors.Join(errs...)
}

func (c *Cycle) fetchRemote(sess remote.Session, n models.Node, remotePath, staging string, index int) (models.DiscoveredServer, error) {
	ch, err := sess.OpenFileChannel()
	if err != nil {
		return models.DiscoveredServer{}, fmt.Errorf("opening file channel: %w", err)
	}
	staged := filepath.Join(staging, fmt.Sprintf("%d-%s", index, c.cfg.PreferencesName))
	err = transfer.Transfer(ch, remotePath, staged)
	ch.Close()
	if err != nil {
		return models.DiscoveredServer{}, err
	}
	defer os.Remove(staged)

	creds, err := credentials.ExtractFile(staged, n.IP)
	if err != nil {
		return models.DiscoveredServer{}, err
	}
	return models.DiscoveredServer{Name: n.Name, URL: creds.URL, Token: creds.Token}, nil
}

// stagingDirName prefixes the node's position in the config so names that
// sanitize to the same string still get separate directories.
func stagingDirName(nodeIndex int, name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf("%d-%s", nodeIndex, name)
}
