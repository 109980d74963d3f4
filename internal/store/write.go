package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/renderscan/internal/monitor"
)

// WriteBatch archives a decoded batch under id, the content id of its
// uncompressed body. Uses ON CONFLICT(id) DO NOTHING for idempotency:
// a batch already archived is left untouched and WriteBatch reports false.
//
// The batch row and its children are written in one transaction, together
// with any pruning WithRetention asks for.
func (s *Store) WriteBatch(ctx context.Context, id, wireVersion string, body []byte, p monitor.Payload) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write batch: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM batches`).Scan(&seq); err != nil {
		return false, fmt.Errorf("write batch: next seq: %w", err)
	}

	sess := p.Session
	res, err := tx.ExecContext(ctx, `
		INSERT INTO batches
		(id, seq, session_id, wire_version, url, route, device, agent, cpu, mem, commit_sha, branch, version, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id, seq, sess.ID, wireVersion,
		sess.URL, sess.Route, sess.Device, sess.Agent, sess.CPU, sess.Mem,
		sess.Commit, sess.Branch, sess.Version,
		string(body),
	)
	if err != nil {
		return false, fmt.Errorf("write batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write batch: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := writeInteractions(ctx, tx, id, p.Interactions); err != nil {
		return false, err
	}
	if err := writeComponents(ctx, tx, id, p.Components); err != nil {
		return false, err
	}
	if s.retain > 0 {
		if err := prune(ctx, tx, s.retain); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write batch: commit: %w", err)
	}
	return true, nil
}

func writeInteractions(ctx context.Context, tx *sql.Tx, batchID string, its []monitor.WireInteraction) error {
	for i, it := range its {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interactions (batch_id, ordinal, id, name, type, time, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, batchID, i, it.ID, it.Name, it.Type, it.Time, it.Timestamp)
		if err != nil {
			return fmt.Errorf("write interaction %q: %w", it.ID, err)
		}
	}
	return nil
}

func writeComponents(ctx context.Context, tx *sql.Tx, batchID string, cs []monitor.WireComponent) error {
	for i, c := range cs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO components (batch_id, ordinal, interaction_id, name, instances, renders, total_time)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, batchID, i, c.InteractionID, c.Name, c.Instances, c.Renders, c.TotalTime)
		if err != nil {
			return fmt.Errorf("write component %q: %w", c.Name, err)
		}
	}
	return nil
}

// prune deletes every batch older than the newest keep. Children go with
// their batch through ON DELETE CASCADE.
func prune(ctx context.Context, tx *sql.Tx, keep int) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM batches
		WHERE seq <= (SELECT COALESCE(MAX(seq), 0) FROM batches) - ?
	`, keep)
	if err != nil {
		return fmt.Errorf("prune archive: %w", err)
	}
	return nil
}
