// Package taskcard implements the task card model: the canonical task
// entity, its validation, priority scoring, and sort/filter helpers. Pure
// in-memory, immutable value semantics: every transition returns a new
// record rather than mutating the receiver.
package taskcard

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the kinds of task a card can represent.
type Type string

const (
	TypeContinuationIssue      Type = "continuation_issue"
	TypeErrorSpike             Type = "error_spike"
	TypeDocumentationGap       Type = "documentation_gap"
	TypePerformanceDegradation Type = "performance_degradation"
	TypeUXIssue                Type = "ux_issue"
	TypeTemplate               Type = "template"
)

// Severity is an ordered enum, critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityWeight = map[Severity]float64{
	SeverityCritical: 100,
	SeverityHigh:     75,
	SeverityMedium:   50,
	SeverityLow:      25,
}

// Status is the task lifecycle state machine.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusApproved  Status = "approved"
	StatusDismissed Status = "dismissed"
	StatusCompleted Status = "completed"
)

// Evidence bundles the one-line summary, ordered detail list, numeric
// metrics, and raw event samples supporting a finding.
type Evidence struct {
	Summary string             `json:"summary"`
	Details []string           `json:"details,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Samples []string           `json:"samples,omitempty"`
}

// SuggestedFix describes the concrete remediation an analyzer proposes.
type SuggestedFix struct {
	Approach        string   `json:"approach"`
	Files           []string `json:"files,omitempty"`
	Changes         []string `json:"changes,omitempty"`
	EstimatedEffort string   `json:"estimatedEffort,omitempty"`
}

// Metadata carries optional cross-references, currently just the event ids
// that supported the finding.
type Metadata struct {
	RelatedEvents []string `json:"relatedEvents,omitempty"`
}

// TaskCard is the canonical task entity.
type TaskCard struct {
	ID                 string       `json:"id"`
	Type               Type         `json:"type"`
	Severity           Severity     `json:"severity"`
	Status             Status       `json:"status"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	Evidence           Evidence     `json:"evidence"`
	SuggestedFix       SuggestedFix `json:"suggestedFix"`
	AcceptanceCriteria []string     `json:"acceptanceCriteria"`
	Priority           int          `json:"priority"`
	Confidence         float64      `json:"confidence"`
	Analyzer           string       `json:"analyzer"`
	GeneratedAt        time.Time    `json:"generatedAt"`
	ApprovedAt         *time.Time   `json:"approvedAt,omitempty"`
	DismissedAt        *time.Time   `json:"dismissedAt,omitempty"`
	CompletedAt        *time.Time   `json:"completedAt,omitempty"`
	DismissReason      string       `json:"dismissReason,omitempty"`
	Metadata           Metadata     `json:"metadata,omitempty"`
}

// ValidationError reports a constraint violation from validate().
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("taskcard: invalid %s: %s", e.Field, e.Msg)
}

// ConflictError reports an illegal status transition attempt.
type ConflictError struct {
	From, To Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("taskcard: illegal transition %s -> %s", e.From, e.To)
}

// NewID generates a lexicographically sortable, globally unique,
// time-prefixed task id. A short uuid suffix disambiguates cards minted in
// the same nanosecond.
func NewID(now time.Time) string {
	return fmt.Sprintf("task-%s-%s", now.UTC().Format("20060102T150405.000000000"), uuid.New().String()[:8])
}

// New constructs and validates a TaskCard, computing id, priority, and
// generatedAt. Returns a ValidationError if required fields are missing.
func New(t Type, severity Severity, title, description string, evidence Evidence, fix SuggestedFix, acceptance []string, confidence float64, analyzer string, now time.Time) (TaskCard, error) {
	card := TaskCard{
		ID:                 NewID(now),
		Type:               t,
		Severity:           severity,
		Status:             StatusGenerated,
		Title:              title,
		Description:        description,
		Evidence:           evidence,
		SuggestedFix:       fix,
		AcceptanceCriteria: acceptance,
		Confidence:         confidence,
		Analyzer:           analyzer,
		GeneratedAt:        now,
	}
	card.Priority = ComputePriority(severity, confidence, ImpactMultiplier(evidence))

	if err := card.validate(); err != nil {
		return TaskCard{}, err
	}
	return card, nil
}

// ImpactMultiplier derives the [1.0, 1.5] impact multiplier from evidence
// metrics. More metrics reported means slightly higher
// confidence that the finding is well-supported, capped at 1.5.
func ImpactMultiplier(e Evidence) float64 {
	m := 1.0 + 0.1*float64(len(e.Metrics))
	if m > 1.5 {
		m = 1.5
	}
	return m
}

// ComputePriority computes priority = severityWeight *
// confidence * impactMultiplier, clamped to [0,100] and rounded.
func ComputePriority(severity Severity, confidence, impactMultiplier float64) int {
	weight, ok := severityWeight[severity]
	if !ok {
		weight = 0
	}
	raw := weight * confidence * impactMultiplier
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return int(raw + 0.5)
}

func (c TaskCard) validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Msg: "required"}
	}
	if c.Title == "" {
		return &ValidationError{Field: "title", Msg: "required"}
	}
	if len(c.AcceptanceCriteria) == 0 {
		return &ValidationError{Field: "acceptanceCriteria", Msg: "must be non-empty"}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return &ValidationError{Field: "confidence", Msg: "must be in [0,1]"}
	}
	switch c.Severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
	default:
		return &ValidationError{Field: "severity", Msg: "must be one of critical/high/medium/low"}
	}
	if c.Evidence.Summary == "" {
		return &ValidationError{Field: "evidence.summary", Msg: "required"}
	}
	return nil
}

// Validate re-runs construction-time validation on an existing card (e.g.
// after deserializing from the store).
func (c TaskCard) Validate() error {
	return c.validate()
}

// legalTransitions encodes the forward-only lifecycle: generated -> {approved, dismissed,
// completed}; approved -> completed. All other transitions are rejected
// with a ConflictError and leave the card unchanged.
var legalTransitions = map[Status]map[Status]bool{
	StatusGenerated: {StatusApproved: true, StatusDismissed: true, StatusCompleted: true},
	StatusApproved:  {StatusCompleted: true},
}

// CanTransition reports whether from -> to is a legal forward transition.
func CanTransition(from, to Status) bool {
	return legalTransitions[from][to]
}

// Approve returns a new TaskCard transitioned to approved, or a
// ConflictError if the current status cannot legally move there.
func (c TaskCard) Approve(now time.Time) (TaskCard, error) {
	if !CanTransition(c.Status, StatusApproved) {
		return c, &ConflictError{From: c.Status, To: StatusApproved}
	}
	next := c
	next.Status = StatusApproved
	next.ApprovedAt = &now
	return next, nil
}

// Dismiss returns a new TaskCard transitioned to dismissed with the given
// reason, or a ConflictError if illegal.
func (c TaskCard) Dismiss(reason string, now time.Time) (TaskCard, error) {
	if !CanTransition(c.Status, StatusDismissed) {
		return c, &ConflictError{From: c.Status, To: StatusDismissed}
	}
	next := c
	next.Status = StatusDismissed
	next.DismissedAt = &now
	next.DismissReason = reason
	return next, nil
}

// Complete returns a new TaskCard transitioned to completed, or a
// ConflictError if illegal.
func (c TaskCard) Complete(now time.Time) (TaskCard, error) {
	if !CanTransition(c.Status, StatusCompleted) {
		return c, &ConflictError{From: c.Status, To: StatusCompleted}
	}
	next := c
	next.Status = StatusCompleted
	next.CompletedAt = &now
	return next, nil
}

// IsActive reports whether the task's status is generated or approved.
func (c TaskCard) IsActive() bool {
	return c.Status == StatusGenerated || c.Status == StatusApproved
}

// Sort stably orders cards by priority desc, confidence desc, generatedAt
// desc, with id as the final tie-break.
func Sort(cards []TaskCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i], cards[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.GeneratedAt.Equal(b.GeneratedAt) {
			return a.GeneratedAt.After(b.GeneratedAt)
		}
		return a.ID < b.ID
	})
}

// Filter describes the query fields accepted by the store's Load and the
// HTTP surface's GET /tasks.
type Filter struct {
	Status Status
	Type   Type
}

// Match applies a Filter to a single card.
func (f Filter) Match(c TaskCard) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	return true
}

// FilterSlice returns the cards in cards matching f.
func FilterSlice(cards []TaskCard, f Filter) []TaskCard {
	out := make([]TaskCard, 0, len(cards))
	for _, c := range cards {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}
