// Package worker implements the embedded Runtime Worker (C11): an optional
// in-process claim loop that drives queued runs through a single tool
// invocation using the same write paths (step.created, tool.invoked,
// authorize_tool_call, egress via C8) an HTTP-driven toolcall would use.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-qen/legatorcp/pkg/egress"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
	"github.com/marcus-qen/legatorcp/pkg/policy"
	"github.com/marcus-qen/legatorcp/pkg/runlifecycle"
)

// ErrAlreadyRunning is returned by RunOnce when a cycle is already in
// flight in this process.
var ErrAlreadyRunning = errors.New("worker_cycle_already_running")

// Config configures a Worker.
type Config struct {
	WorkspaceID    string
	RoomFilter     string
	ClaimerActorID string
	PollInterval   time.Duration
}

// Worker claims one run at a time within a workspace and executes its
// single embedded tool call to completion.
type Worker struct {
	writer *eventlog.Writer
	runs   *runlifecycle.Manager
	gate   *policy.Gate
	egress *egress.Broker
	cfg    Config

	inFlight atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Worker.
func New(writer *eventlog.Writer, runs *runlifecycle.Manager, gate *policy.Gate, broker *egress.Broker, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Worker{
		writer: writer,
		runs:   runs,
		gate:   gate,
		egress: broker,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start runs the claim loop in a goroutine until Stop or ctx cancellation.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop signals the loop to exit and blocks until any in-flight cycle
// drains.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := w.RunOnce(ctx)
		switch {
		case errors.Is(err, runlifecycle.ErrNoRunAvailable):
			w.sleep(w.withJitter(w.cfg.PollInterval))
		case err != nil:
			w.sleep(time.Second)
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) withJitter(base time.Duration) time.Duration {
	jitter := base / 4
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

// runtimeDirectives is the subset of a run's input this worker understands.
type runtimeDirectives struct {
	ToolName         string
	ToolInput        map[string]interface{}
	PrincipalID      *uuid.UUID
	CapabilityToken  *uuid.UUID
	Zone             string
	EgressTargetURL  string
}

func parseDirectives(input map[string]interface{}) runtimeDirectives {
	var d runtimeDirectives
	if input == nil {
		return d
	}
	if v, ok := input["tool"].(string); ok {
		d.ToolName = v
	}
	if v, ok := input["tool_input"].(map[string]interface{}); ok {
		d.ToolInput = v
	}
	if policyRaw, ok := input["runtime.policy"].(map[string]interface{}); ok {
		if v, ok := policyRaw["principal_id"].(string); ok {
			if id, err := uuid.Parse(v); err == nil {
				d.PrincipalID = &id
			}
		}
		if v, ok := policyRaw["capability_token_id"].(string); ok {
			if id, err := uuid.Parse(v); err == nil {
				d.CapabilityToken = &id
			}
		}
		if v, ok := policyRaw["zone"].(string); ok {
			d.Zone = v
		}
	}
	if egressRaw, ok := input["runtime.egress"].(map[string]interface{}); ok {
		if v, ok := egressRaw["target_url"].(string); ok {
			d.EgressTargetURL = v
		}
	}
	return d
}

// RunOnce claims one run (if any is queued) and drives it through its
// embedded tool call to a terminal state. It returns
// runlifecycle.ErrNoRunAvailable when the queue is empty, which callers
// should treat as a normal, non-error poll outcome.
func (w *Worker) RunOnce(ctx context.Context) error {
	if !w.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.inFlight.Store(false)

	claim, err := w.runs.Claim(ctx, w.cfg.WorkspaceID, w.cfg.RoomFilter, w.cfg.ClaimerActorID)
	if err != nil {
		return err
	}

	succeeded, errPayload := w.execute(ctx, claim.Run, claim.ClaimToken)
	if cerr := w.runs.Complete(ctx, w.cfg.WorkspaceID, claim.Run.RunID, succeeded, errPayload); cerr != nil {
		return fmt.Errorf("complete run %s: %w", claim.Run.RunID, cerr)
	}
	return nil
}

// execute creates one step, invokes its embedded tool call through the
// policy gate (and the egress broker when the tool targets an external
// URL), and reports whether the run as a whole succeeded.
func (w *Worker) execute(ctx context.Context, run *runlifecycle.Run, claimToken string) (bool, map[string]interface{}) {
	directives := parseDirectives(run.Input)
	if directives.ToolName == "" {
		return true, nil
	}

	stepID := uuid.NewString()
	step, err := w.runs.CreateStep(ctx, run.WorkspaceID, run.RunID, stepID, directives.ToolName, eventlog.ActorTypeService, w.cfg.ClaimerActorID)
	if err != nil {
		return false, map[string]interface{}{"code": "internal_error", "message": err.Error()}
	}

	toolCallID := uuid.NewString()
	if err := w.appendToolEvent(ctx, run, step.StepID, eventlog.EventToolInvoked, toolCallID, directives, nil, nil); err != nil {
		return false, map[string]interface{}{"code": "internal_error", "message": err.Error()}
	}

	decision := w.gate.Evaluate(ctx, policy.Request{
		WorkspaceID:       run.WorkspaceID,
		ActorType:         eventlog.ActorTypeAgent,
		ActorID:           w.cfg.ClaimerActorID,
		ActorPrincipalID:  directives.PrincipalID,
		Category:          policy.CategoryToolCall,
		ToolName:          directives.ToolName,
		Zone:              directives.Zone,
		RoomID:            run.RoomID,
		CapabilityTokenID: directives.CapabilityToken,
	})
	if decision.Blocked {
		errPayload := map[string]interface{}{"code": "policy_denied", "reason_code": decision.ReasonCode}
		_ = w.appendToolEvent(ctx, run, step.StepID, eventlog.EventToolFailed, toolCallID, directives, nil, errPayload)
		_ = w.runs.CompleteStep(ctx, run.WorkspaceID, step.StepID, false, errPayload, eventlog.ActorTypeService, w.cfg.ClaimerActorID)
		return false, errPayload
	}

	if directives.EgressTargetURL != "" {
		result, err := w.egress.RequestEgress(ctx, egress.Request{
			WorkspaceID:       run.WorkspaceID,
			ActorType:         eventlog.ActorTypeAgent,
			ActorID:           w.cfg.ClaimerActorID,
			ActorPrincipalID:  directives.PrincipalID,
			Zone:              directives.Zone,
			Method:            "POST",
			URLOrDomain:       directives.EgressTargetURL,
			RoomID:            run.RoomID,
			CapabilityTokenID: directives.CapabilityToken,
		})
		if err != nil {
			errPayload := map[string]interface{}{"code": "internal_error", "message": err.Error()}
			_ = w.appendToolEvent(ctx, run, step.StepID, eventlog.EventToolFailed, toolCallID, directives, nil, errPayload)
			_ = w.runs.CompleteStep(ctx, run.WorkspaceID, step.StepID, false, errPayload, eventlog.ActorTypeService, w.cfg.ClaimerActorID)
			return false, errPayload
		}
		if result.Blocked {
			errPayload := map[string]interface{}{"code": "external_write_kill_switch", "reason_code": result.ReasonCode}
			_ = w.appendToolEvent(ctx, run, step.StepID, eventlog.EventToolFailed, toolCallID, directives, nil, errPayload)
			_ = w.runs.CompleteStep(ctx, run.WorkspaceID, step.StepID, false, errPayload, eventlog.ActorTypeService, w.cfg.ClaimerActorID)
			return false, errPayload
		}
	}

	output := map[string]interface{}{"tool": directives.ToolName}
	if err := w.appendToolEvent(ctx, run, step.StepID, eventlog.EventToolSucceeded, toolCallID, directives, output, nil); err != nil {
		return false, map[string]interface{}{"code": "internal_error", "message": err.Error()}
	}
	if err := w.runs.CompleteStep(ctx, run.WorkspaceID, step.StepID, true, output, eventlog.ActorTypeService, w.cfg.ClaimerActorID); err != nil {
		return false, map[string]interface{}{"code": "internal_error", "message": err.Error()}
	}
	return true, nil
}

func (w *Worker) appendToolEvent(ctx context.Context, run *runlifecycle.Run, stepID, eventType, toolCallID string, d runtimeDirectives, output, errPayload map[string]interface{}) error {
	data := map[string]interface{}{
		"tool_call_id": toolCallID,
		"step_id":      stepID,
		"tool_name":    d.ToolName,
	}
	if d.ToolInput != nil {
		data["input"] = d.ToolInput
	}
	if output != nil {
		data["output"] = output
	}
	if errPayload != nil {
		data["error"] = errPayload
	}

	_, err := w.writer.Append(ctx, eventlog.Envelope{
		EventType:   eventType,
		WorkspaceID: run.WorkspaceID,
		RoomID:      run.RoomID,
		RunID:       run.RunID,
		StepID:      stepID,
		ActorType:   eventlog.ActorTypeService,
		ActorID:     w.cfg.ClaimerActorID,
		StreamType:  "workspace",
		StreamID:    run.WorkspaceID,
		Data:        data,
	})
	return err
}
