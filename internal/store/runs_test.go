package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/models"
)

func testRun(start time.Time, servers int, nodes ...models.NodeResult) *models.DiscoveryRun {
	return &models.DiscoveryRun{
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Servers:    servers,
		Status:     models.RunStatusCompleted,
		Nodes:      nodes,
	}
}

func TestInsertAndListDiscoveryRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := testRun(base, 1, models.NodeResult{Node: "vault", Servers: 1})
	require.NoError(t, s.InsertDiscoveryRun(ctx, first))
	assert.NotZero(t, first.ID)

	second := testRun(base.Add(time.Hour), 2,
		models.NodeResult{Node: "alpha", Servers: 2},
		models.NodeResult{Node: "beta", Error: "connect beta: refused"},
	)
	require.NoError(t, s.InsertDiscoveryRun(ctx, second))

	runs, err := s.ListDiscoveryRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, base.Add(time.Hour), runs[0].StartedAt)
	assert.Equal(t, base.Add(time.Hour+3*time.Second), runs[0].FinishedAt)
	assert.Equal(t, 2, runs[0].Servers)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, []models.NodeResult{
		{Node: "alpha", Servers: 2},
		{Node: "beta", Error: "connect beta: refused"},
	}, runs[0].Nodes)

	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, []models.NodeResult{{Node: "vault", Servers: 1}}, runs[1].Nodes)
}

func TestListDiscoveryRunsEmpty(t *testing.T) {
	s := newTestStore(t)

	runs, err := s.ListDiscoveryRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestListDiscoveryRunsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		run := testRun(base.Add(time.Duration(i)*time.Minute), i, models.NodeResult{Node: "n", Servers: i})
		require.NoError(t, s.InsertDiscoveryRun(ctx, run))
	}

	runs, err := s.ListDiscoveryRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 4, runs[0].Servers)
	assert.Equal(t, 3, runs[1].Servers)
	assert.Len(t, runs[1].Nodes, 1)
}

func TestCancelledRunKeepsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun(time.Now().UTC().Truncate(time.Millisecond), 0)
	run.Status = models.RunStatusCancelled
	run.Error = "context canceled"
	require.NoError(t, s.InsertDiscoveryRun(ctx, run))

	last, err := s.LastDiscoveryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, last.Status)
	assert.Equal(t, "context canceled", last.Error)
	assert.Empty(t, last.Nodes)
}

func TestLastDiscoveryRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LastDiscoveryRun(context.Background())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPruneDiscoveryRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		run := testRun(base.Add(time.Duration(i)*time.Hour), i, models.NodeResult{Node: "n"})
		require.NoError(t, s.InsertDiscoveryRun(ctx, run))
	}

	deleted, err := s.PruneDiscoveryRuns(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	runs, err := s.ListDiscoveryRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Servers)

	var orphans int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM discovery_node_results").Scan(&orphans))
	assert.Equal(t, 1, orphans)
}
