package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/renderscan/internal/monitor"
)

// BatchInfo describes one archived batch.
type BatchInfo struct {
	ID           string
	Seq          int64
	SessionID    string
	WireVersion  string
	URL          string
	Route        string
	Interactions int
	Components   int
}

// Batch is an archived batch with its decoded payload.
type Batch struct {
	BatchInfo
	Body    []byte
	Payload monitor.Payload
}

// ComponentSummary aggregates a component across every archived batch.
type ComponentSummary struct {
	Name         string
	Interactions int
	Instances    int
	Renders      int
	TotalTime    float64
}

// InteractionSummary aggregates interactions sharing a type and name.
type InteractionSummary struct {
	Type      string
	Name      string
	Count     int
	TotalTime float64
	MaxTime   float64
}

// ListBatches returns every batch in receive order.
//
// Returns an empty slice (not nil) for an empty archive.
func (s *Store) ListBatches(ctx context.Context) ([]BatchInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.seq, b.session_id, b.wire_version, b.url, b.route,
			(SELECT COUNT(*) FROM interactions i WHERE i.batch_id = b.id),
			(SELECT COUNT(*) FROM components c WHERE c.batch_id = b.id)
		FROM batches b
		ORDER BY b.seq ASC, b.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []BatchInfo{}
	for rows.Next() {
		var b BatchInfo
		if err := rows.Scan(&b.ID, &b.Seq, &b.SessionID, &b.WireVersion, &b.URL, &b.Route,
			&b.Interactions, &b.Components); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// ReadBatch returns one batch with its payload rebuilt from the archive
// rows. Returns ErrNotFound for an unknown id.
func (s *Store) ReadBatch(ctx context.Context, id string) (Batch, error) {
	var (
		b    Batch
		body string
		sess = &b.Payload.Session
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seq, session_id, wire_version, url, route, device, agent, cpu, mem,
			commit_sha, branch, version, body
		FROM batches WHERE id = ?
	`, id).Scan(&b.ID, &b.Seq, &b.SessionID, &b.WireVersion, &b.URL, &b.Route,
		&sess.Device, &sess.Agent, &sess.CPU, &sess.Mem, &sess.Commit, &sess.Branch, &sess.Version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, fmt.Errorf("batch %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("read batch: %w", err)
	}
	b.Body = []byte(body)
	sess.ID, sess.URL, sess.Route = b.SessionID, b.URL, b.Route

	if b.Payload.Interactions, err = s.readInteractions(ctx, id); err != nil {
		return Batch{}, err
	}
	if b.Payload.Components, err = s.readComponents(ctx, id); err != nil {
		return Batch{}, err
	}
	b.Interactions, b.Components = len(b.Payload.Interactions), len(b.Payload.Components)
	return b, nil
}

func (s *Store) readInteractions(ctx context.Context, batchID string) ([]monitor.WireInteraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, time, timestamp
		FROM interactions WHERE batch_id = ?
		ORDER BY ordinal ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	its := []monitor.WireInteraction{}
	for rows.Next() {
		var it monitor.WireInteraction
		if err := rows.Scan(&it.ID, &it.Name, &it.Type, &it.Time, &it.Timestamp); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		its = append(its, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return its, nil
}

func (s *Store) readComponents(ctx context.Context, batchID string) ([]monitor.WireComponent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interaction_id, name, instances, renders, total_time
		FROM components WHERE batch_id = ?
		ORDER BY ordinal ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	cs := []monitor.WireComponent{}
	for rows.Next() {
		var c monitor.WireComponent
		if err := rows.Scan(&c.InteractionID, &c.Name, &c.Instances, &c.Renders, &c.TotalTime); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate components: %w", err)
	}
	return cs, nil
}

// ComponentSummaries aggregates components by name across the archive,
// most expensive first. Ties break on name.
func (s *Store) ComponentSummaries(ctx context.Context) ([]ComponentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COUNT(*), SUM(instances), SUM(renders), SUM(total_time)
		FROM components
		GROUP BY name COLLATE BINARY
		ORDER BY SUM(total_time) DESC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query component summaries: %w", err)
	}
	defer rows.Close()

	out := []ComponentSummary{}
	for rows.Next() {
		var c ComponentSummary
		if err := rows.Scan(&c.Name, &c.Interactions, &c.Instances, &c.Renders, &c.TotalTime); err != nil {
			return nil, fmt.Errorf("scan component summary: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate component summaries: %w", err)
	}
	return out, nil
}

// InteractionSummaries aggregates interactions by type and name, slowest
// total first.
func (s *Store) InteractionSummaries(ctx context.Context) ([]InteractionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, name, COUNT(*), SUM(time), MAX(time)
		FROM interactions
		GROUP BY type COLLATE BINARY, name COLLATE BINARY
		ORDER BY SUM(time) DESC, type COLLATE BINARY ASC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query interaction summaries: %w", err)
	}
	defer rows.Close()

	out := []InteractionSummary{}
	for rows.Next() {
		var it InteractionSummary
		if err := rows.Scan(&it.Type, &it.Name, &it.Count, &it.TotalTime, &it.MaxTime); err != nil {
			return nil, fmt.Errorf("scan interaction summary: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction summaries: %w", err)
	}
	return out, nil
}
