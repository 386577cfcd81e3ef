// Package audit emits a durable trail of task-lifecycle actions
// (generated, approved, dismissed, completed, auto-approved, scheduler
// tick, cleanup) back into the same context_log/ctx-YYYYMMDDHH.jsonl
// files the event reader consumes: each recorded action appends a single
// JSON line shaped like {id, ts, actor:"system", act:<verb>, status, ...}.
// Callers record a scheduler run only when it gets past the analyzers;
// runs skipped as disabled or for lack of events, and runs whose event or
// task load fails, write no line. Cards the scheduler saves are covered by
// that run line only, not by a "generated" line each. Of auto-approval
// decisions only actual approvals are recorded, and rejected (illegal)
// status transitions and other anomalies are not recorded. TaskGen never rewrites
// an existing collaborator-authored line; it only appends its own
// system-actor lines, so the log stays authoritative for everything the
// host application wrote while TGT's own actions become visible to the
// next window's Event Reader pass too. Audit counts are mirrored as
// OpenTelemetry counters for operators who scrape metrics instead of
// tailing files; the meter is the package default (a no-op
// implementation) unless the host process installs a real MeterProvider.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Action enumerates the audit event kinds.
type Action string

const (
	ActionGenerated    Action = "task_generated"
	ActionApproved     Action = "task_approved"
	ActionDismissed    Action = "task_dismissed"
	ActionCompleted    Action = "task_completed"
	ActionAutoApproved Action = "task_auto_approved"
	ActionSchedulerRun Action = "scheduler_run"
	ActionCleanup      Action = "cleanup_run"
)

// Record is a single audit line, shaped like the telemetry Event the
// host application writes so the same hourly file can hold both:
// {id, ts, actor, act, status, ...}. TaskID/Analyzer mirror the telemetry
// schema's conv_id-style cross-reference fields; Details carries whatever
// else the call site wants to record (gate traces, reasons, counts).
type Record struct {
	ID       string         `json:"id"`
	TS       time.Time      `json:"ts"`
	Actor    string         `json:"actor"`
	Act      Action         `json:"act"`
	Status   string         `json:"status"`
	TaskID   string         `json:"task_id,omitempty"`
	Analyzer string         `json:"analyzer,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Writer appends Records to hourly files and mirrors each one into an
// otel counter, labeled by action.
type Writer struct {
	dir     string
	mu      sync.Mutex
	counter metric.Int64Counter
}

// NewWriter opens (creating as needed) the audit trail under dir, the same
// context_log directory the event reader consumes.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir %s: %w", dir, err)
	}
	meter := otel.GetMeterProvider().Meter("taskgen")
	counter, err := meter.Int64Counter("taskgen.audit.events",
		metric.WithDescription("count of task lifecycle audit events, labeled by action"))
	if err != nil {
		return nil, fmt.Errorf("audit: build counter: %w", err)
	}
	return &Writer{dir: dir, counter: counter}, nil
}

// Emit appends one audit record and increments the corresponding counter.
// Status defaults to "ok"; failed operations should still call Emit with a
// details entry describing the failure rather than skipping the line, so
// the audit trail stays a complete record of attempted actions.
func (w *Writer) Emit(action Action, taskID, analyzer string, details map[string]any) error {
	rec := Record{
		ID:       "audit-" + uuid.New().String(),
		TS:       time.Now().UTC(),
		Actor:    "system",
		Act:      action,
		Status:   "ok",
		TaskID:   taskID,
		Analyzer: analyzer,
		Details:  details,
	}

	w.mu.Lock()
	err := w.append(rec)
	w.mu.Unlock()

	w.counter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("analyzer", analyzer),
	))
	return err
}

func (w *Writer) append(rec Record) error {
	path := filepath.Join(w.dir, hourFileName(rec.TS))
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("audit: write %s: %w", path, err)
	}
	return f.Sync()
}

// hourFileName matches the Event Reader's own ctx-YYYYMMDDHH.jsonl naming
// (internal/event.hourFileName) so audit lines land in the exact file the
// next window's Load call will read.
func hourFileName(t time.Time) string {
	return fmt.Sprintf("ctx-%s.jsonl", t.UTC().Format("2006010215"))
}
