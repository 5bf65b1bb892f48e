package store

import (
	"context"
	"fmt"
	"time"

	"argus/internal/models"
)

const DefaultRunRetention = 200

// InsertDiscoveryRun records a finished run and its per-node results,
// setting run.ID.
func (s *Store) InsertDiscoveryRun(ctx context.Context, run *models.DiscoveryRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO discovery_runs (started_at, finished_at, servers, status, error) VALUES (?, ?, ?, ?, ?)`,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.Servers, string(run.Status), run.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting discovery run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO discovery_node_results (run_id, position, node, servers, error) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing node results: %w", err)
	}
	defer stmt.Close()
	for i, n := range run.Nodes {
		if _, err := stmt.ExecContext(ctx, id, i, n.Node, n.Servers, n.Error); err != nil {
			return fmt.Errorf("inserting node result for %s: %w", n.Node, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit discovery run: %w", err)
	}
	run.ID = id
	return nil
}

// ListDiscoveryRuns returns the most recent runs, newest first.
func (s *Store) ListDiscoveryRuns(ctx context.Context, limit int) ([]models.DiscoveryRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, servers, status, error
		FROM discovery_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing discovery runs: %w", err)
	}
	defer rows.Close()

	runs := []models.DiscoveryRun{}
	index := make(map[int64]int)
	for rows.Next() {
		var run models.DiscoveryRun
		var started, finished int64
		var status string
		if err := rows.Scan(&run.ID, &started, &finished, &run.Servers, &status, &run.Error); err != nil {
			return nil, err
		}
		run.Status = models.RunStatus(status)
		run.StartedAt = time.UnixMilli(started).UTC()
		run.FinishedAt = time.UnixMilli(finished).UTC()
		run.Nodes = []models.NodeResult{}
		index[run.ID] = len(runs)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return runs, nil
	}

	nodeRows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node, servers, error FROM discovery_node_results
		WHERE run_id IN (SELECT id FROM discovery_runs ORDER BY started_at DESC, id DESC LIMIT ?)
		ORDER BY run_id, position`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing node results: %w", err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var runID int64
		var n models.NodeResult
		if err := nodeRows.Scan(&runID, &n.Node, &n.Servers, &n.Error); err != nil {
			return nil, err
		}
		if i, ok := index[runID]; ok {
			runs[i].Nodes = append(runs[i].Nodes, n)
		}
	}
	return runs, nodeRows.Err()
}

// LastDiscoveryRun returns the most recent run or models.ErrNotFound.
func (s *Store) LastDiscoveryRun(ctx context.Context) (*models.DiscoveryRun, error) {
	runs, err := s.ListDiscoveryRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("discovery run: %w", models.ErrNotFound)
	}
	return &runs[0], nil
}

// PruneDiscoveryRuns deletes all but the newest keep runs.
func (s *Store) PruneDiscoveryRuns(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM discovery_runs WHERE id NOT IN (
			SELECT id FROM discovery_runs ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning discovery runs: %w", err)
	}
	return res.RowsAffected()
}
