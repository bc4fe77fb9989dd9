package runlifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Step status values.
const (
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
)

// Step is the projected proj_steps row.
type Step struct {
	StepID      string
	RunID       string
	WorkspaceID string
	Name        string
	Status      string
}

// CreateStep appends step.created and projects a running step under runID.
func (m *Manager) CreateStep(ctx context.Context, workspaceID, runID, stepID, name string, actorType, actorID string) (*Step, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin step create: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := m.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:      eventlog.EventStepCreated,
		WorkspaceID:    workspaceID,
		RunID:          runID,
		StepID:         stepID,
		ActorType:      actorType,
		ActorID:        actorID,
		StreamType:     "workspace",
		StreamID:       workspaceID,
		Data:           map[string]interface{}{"step_id": stepID, "run_id": runID, "name": name},
		IdempotencyKey: fmt.Sprintf("step-create:%s", stepID),
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO proj_steps (step_id, run_id, workspace_id, name, status, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (step_id) DO NOTHING`,
		stepID, runID, workspaceID, name, StepStatusRunning, rec.EventID); err != nil {
		return nil, fmt.Errorf("project step create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit step create: %w", err)
	}
	return &Step{StepID: stepID, RunID: runID, WorkspaceID: workspaceID, Name: name, Status: StepStatusRunning}, nil
}

// CompleteStep appends step.completed and transitions the step to
// completed/failed, recording its output payload.
func (m *Manager) CompleteStep(ctx context.Context, workspaceID, stepID string, succeeded bool, output map[string]interface{}, actorType, actorID string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin step complete: %w", err)
	}
	defer tx.Rollback(ctx)

	var runID string
	if err := tx.QueryRow(ctx, `SELECT run_id FROM proj_steps WHERE step_id = $1`, stepID).Scan(&runID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.New("step_not_found", "step not found")
		}
		return fmt.Errorf("lookup step run id: %w", err)
	}

	status := StepStatusCompleted
	if !succeeded {
		status = StepStatusFailed
	}

	rec, err := m.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:      eventlog.EventStepCompleted,
		WorkspaceID:    workspaceID,
		RunID:          runID,
		StepID:         stepID,
		ActorType:      actorType,
		ActorID:        actorID,
		StreamType:     "workspace",
		StreamID:       workspaceID,
		Data:           map[string]interface{}{"step_id": stepID, "run_id": runID, "status": status, "output": output},
		IdempotencyKey: fmt.Sprintf("step-complete:%s", stepID),
	})
	if err != nil {
		return err
	}

	var outputBytes interface{}
	if output != nil {
		b, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal step output: %w", err)
		}
		outputBytes = b
	}

	if _, err := tx.Exec(ctx, `
		UPDATE proj_steps SET status = $2, output = $3, updated_at = now(), last_event_id = $4 WHERE step_id = $1`,
		stepID, status, outputBytes, rec.EventID); err != nil {
		return fmt.Errorf("project step completion: %w", err)
	}

	return tx.Commit(ctx)
}
