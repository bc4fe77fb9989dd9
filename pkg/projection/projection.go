// Package projection implements the catch-up half of the Projection Engine
// (C2): a poll loop over evt_events that dispatches by event_type into the
// proj_* tables owned by no other component. Components that need
// read-after-write consistency for their own operation — the lease queue
// (proj_runs/proj_steps via pkg/runlifecycle), approval matching
// (proj_approvals via pkg/approval), capability validation
// (capability_tokens/delegation_edges via pkg/capability), the growth
// layer's agent/skill/trust tables — already upsert their own projection
// synchronously in the same transaction as their event append, since an
// async catch-up lag there would race the lease manager's claim query. This
// package owns what's left: rooms/threads/messages, tool calls and
// artifacts, and incidents.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// ErrNoEventsAvailable is returned by RunOnce when the cursor has caught up
// to the head of the log.
var ErrNoEventsAvailable = errors.New("no_events_available")

// Runner polls evt_events past its cursor and applies each row exactly
// once, tracked in evt_applied_events and proj_projector_cursors.
type Runner struct {
	pool         *pgxpool.Pool
	name         string
	batchSize    int
	pollInterval time.Duration
	jitter       time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner builds a Runner identified by name (the evt_applied_events /
// proj_projector_cursors key — distinct runner instances must use distinct
// names or they will race each other's cursor).
func NewRunner(pool *pgxpool.Pool, name string, pollInterval time.Duration) *Runner {
	return &Runner{
		pool:         pool,
		name:         name,
		batchSize:    200,
		pollInterval: pollInterval,
		jitter:       pollInterval / 4,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the poll loop in a goroutine until Stop or ctx cancellation.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.RunOnce(ctx)
		if err != nil && !errors.Is(err, ErrNoEventsAvailable) {
			r.sleep(time.Second)
			continue
		}
		if n == 0 {
			r.sleep(r.withJitter(r.pollInterval))
		}
	}
}

func (r *Runner) sleep(d time.Duration) {
	select {
	case <-r.stopCh:
	case <-time.After(d):
	}
}

func (r *Runner) withJitter(base time.Duration) time.Duration {
	if r.jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2 * r.jitter)))
	return base - r.jitter + offset
}

// RunOnce fetches up to batchSize events past the cursor, applies each in
// order, and advances the cursor past the last one it processed. It returns
// the number of events applied.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin projection tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursor, err := r.loadCursor(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("load projector cursor: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT global_seq, event_id, event_type, event_version, occurred_at, workspace_id,
		       COALESCE(mission_id,''), COALESCE(room_id,''), COALESCE(thread_id,''),
		       COALESCE(run_id,''), COALESCE(step_id,''), actor_type, actor_id, actor_principal_id,
		       zone, stream_type, stream_id, stream_seq,
		       redaction_level, contains_secrets,
		       data, policy_context, model_context, display,
		       correlation_id, causation_id
		FROM evt_events
		WHERE global_seq > $1
		ORDER BY global_seq ASC
		LIMIT $2`, cursor, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("query events past cursor: %w", err)
	}

	type pending struct {
		globalSeq int64
		rec       eventlog.Record
	}
	var batch []pending

	for rows.Next() {
		var p pending
		var dataJSON, policyJSON, modelJSON, displayJSON []byte
		if err := rows.Scan(
			&p.globalSeq, &p.rec.EventID, &p.rec.EventType, &p.rec.EventVersion, &p.rec.OccurredAt, &p.rec.WorkspaceID,
			&p.rec.MissionID, &p.rec.RoomID, &p.rec.ThreadID,
			&p.rec.RunID, &p.rec.StepID, &p.rec.ActorType, &p.rec.ActorID, &p.rec.ActorPrincipalID,
			&p.rec.Zone, &p.rec.StreamType, &p.rec.StreamID, &p.rec.StreamSeq,
			&p.rec.RedactionLevel, &p.rec.ContainsSecrets,
			&dataJSON, &policyJSON, &modelJSON, &displayJSON,
			&p.rec.CorrelationID, &p.rec.CausationID,
		); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan projection row: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &p.rec.Data); err != nil {
				rows.Close()
				return 0, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		if len(policyJSON) > 0 {
			_ = json.Unmarshal(policyJSON, &p.rec.PolicyContext)
		}
		if len(modelJSON) > 0 {
			_ = json.Unmarshal(modelJSON, &p.rec.ModelContext)
		}
		if len(displayJSON) > 0 {
			_ = json.Unmarshal(displayJSON, &p.rec.Display)
		}
		batch = append(batch, p)
	}
	rows.Close()
	if rerr := rows.Err(); rerr != nil {
		return 0, fmt.Errorf("iterate projection rows: %w", rerr)
	}

	if len(batch) == 0 {
		return 0, ErrNoEventsAvailable
	}

	for _, p := range batch {
		if err := Apply(ctx, tx, &p.rec); err != nil {
			return 0, fmt.Errorf("apply %s (event %s): %w", p.rec.EventType, p.rec.EventID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO evt_applied_events (projector_name, event_id)
			VALUES ($1, $2)
			ON CONFLICT (projector_name, event_id) DO NOTHING`, r.name, p.rec.EventID); err != nil {
			return 0, fmt.Errorf("record applied event: %w", err)
		}
	}

	last := batch[len(batch)-1].globalSeq
	if _, err := tx.Exec(ctx, `
		INSERT INTO proj_projector_cursors (projector_name, last_global_seq)
		VALUES ($1, $2)
		ON CONFLICT (projector_name) DO UPDATE SET last_global_seq = $2, updated_at = now()`, r.name, last); err != nil {
		return 0, fmt.Errorf("advance projector cursor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit projection batch: %w", err)
	}
	return len(batch), nil
}

func (r *Runner) loadCursor(ctx context.Context, tx pgx.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRow(ctx, `SELECT last_global_seq FROM proj_projector_cursors WHERE projector_name = $1`, r.name).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}
