// Package taskstore implements the task store: an append-only
// newline-delimited JSON file with last-write-wins-by-id read
// semantics, status transitions, cleanup, and a store-changed signal for
// the Change Broadcast layer.
//
// The file is opened O_APPEND so the OS guarantees atomic small-line
// appends; an in-process sync.Mutex serializes writers within this
// process, and a syscall.Flock on a sibling lock file enforces the
// single-writer-process invariant across process boundaries.
package taskstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// NotFound is returned when a task id does not exist in the store.
type NotFound struct {
	ID string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("taskstore: task %q not found", e.ID)
}

// Store is the single-writer, append-only JSONL task persistence layer.
type Store struct {
	path    string
	lockF   *os.File
	writeMu sync.Mutex

	changedMu sync.Mutex
	changed   chan struct{}
}

// Open opens (creating if necessary) the store at dir/generated_tasks.jsonl
// and takes an exclusive flock on a sibling lock file.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("taskstore: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "generated_tasks.jsonl")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open %s: %w", path, err)
	}
	f.Close()

	lockF, err := acquireFlock(path + ".lock")
	if err != nil {
		return nil, err
	}

	return &Store{
		path:    path,
		lockF:   lockF,
		changed: make(chan struct{}, 1),
	}, nil
}

// Close releases the writer-process lock.
func (s *Store) Close() error {
	releaseFlock(s.lockF)
	return nil
}

// Changed returns a channel that receives a signal after every successful
// mutation. The channel is buffered 1 and sends never block; a pending
// signal coalesces multiple mutations. This in-process signal is
// independent of the file-watcher mechanism, which also fires but may lag.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

func (s *Store) notifyChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Save serializes task and appends a single JSONL line under the writer
// lock, then signals change.
func (s *Store) Save(task taskcard.TaskCard) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := appendLine(s.path, task); err != nil {
		return err
	}
	s.notifyChanged()
	return nil
}

func appendLine(path string, task taskcard.TaskCard) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("taskstore: marshal task %s: %w", task.ID, err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("taskstore: open %s for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("taskstore: append task %s: %w", task.ID, err)
	}
	return f.Sync()
}

// loadAll streams the file, building id -> latest record (last write
// wins). Corrupt lines are skipped and counted but never abort the
// read, matching the analogous discipline in internal/event.
func (s *Store) loadAll() (map[string]taskcard.TaskCard, int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]taskcard.TaskCard{}, 0, nil
		}
		return nil, 0, fmt.Errorf("taskstore: open %s: %w", s.path, err)
	}
	defer f.Close()

	latest := make(map[string]taskcard.TaskCard)
	corrupt := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var card taskcard.TaskCard
		if err := json.Unmarshal(line, &card); err != nil {
			corrupt++
			continue
		}
		latest[card.ID] = card
	}
	if err := scanner.Err(); err != nil {
		return latest, corrupt, fmt.Errorf("taskstore: scan %s: %w", s.path, err)
	}
	return latest, corrupt, nil
}

// Load streams the file, keeps only the latest record per id, applies
// filter, sorts per taskcard.Sort, and truncates to limit (0 = unlimited).
func (s *Store) Load(filter taskcard.Filter, limit int) ([]taskcard.TaskCard, error) {
	latest, _, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	out := make([]taskcard.TaskCard, 0, len(latest))
	for _, card := range latest {
		if filter.Match(card) {
			out = append(out, card)
		}
	}
	taskcard.Sort(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the latest record for id, or NotFound.
func (s *Store) Get(id string) (taskcard.TaskCard, error) {
	latest, _, err := s.loadAll()
	if err != nil {
		return taskcard.TaskCard{}, err
	}
	card, ok := latest[id]
	if !ok {
		return taskcard.TaskCard{}, &NotFound{ID: id}
	}
	return card, nil
}

// Approve transitions a task generated -> approved and re-appends it.
func (s *Store) Approve(id string) (taskcard.TaskCard, error) {
	return s.transition(id, func(c taskcard.TaskCard, now time.Time) (taskcard.TaskCard, error) {
		return c.Approve(now)
	})
}

// Dismiss transitions a task to dismissed with reason and re-appends it.
func (s *Store) Dismiss(id, reason string) (taskcard.TaskCard, error) {
	return s.transition(id, func(c taskcard.TaskCard, now time.Time) (taskcard.TaskCard, error) {
		return c.Dismiss(reason, now)
	})
}

// Complete transitions a task to completed and re-appends it.
func (s *Store) Complete(id string) (taskcard.TaskCard, error) {
	return s.transition(id, func(c taskcard.TaskCard, now time.Time) (taskcard.TaskCard, error) {
		return c.Complete(now)
	})
}

func (s *Store) transition(id string, fn func(taskcard.TaskCard, time.Time) (taskcard.TaskCard, error)) (taskcard.TaskCard, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	latest, _, err := s.loadAll()
	if err != nil {
		return taskcard.TaskCard{}, err
	}
	current, ok := latest[id]
	if !ok {
		return taskcard.TaskCard{}, &NotFound{ID: id}
	}

	next, err := fn(current, time.Now().UTC())
	if err != nil {
		return taskcard.TaskCard{}, err
	}

	if err := appendLine(s.path, next); err != nil {
		return taskcard.TaskCard{}, err
	}
	s.notifyChanged()
	return next, nil
}

// Stats reports counts by status, severity, and type, plus averages of
// priority and confidence.
type Stats struct {
	ByStatus          map[taskcard.Status]int   `json:"byStatus"`
	BySeverity        map[taskcard.Severity]int `json:"bySeverity"`
	ByType            map[taskcard.Type]int     `json:"byType"`
	Total             int                       `json:"total"`
	AveragePriority   float64                   `json:"averagePriority"`
	AverageConfidence float64                   `json:"averageConfidence"`
}

// Stats computes aggregate statistics over the current store contents.
func (s *Store) Stats() (Stats, error) {
	latest, _, err := s.loadAll()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByStatus:   make(map[taskcard.Status]int),
		BySeverity: make(map[taskcard.Severity]int),
		ByType:     make(map[taskcard.Type]int),
	}

	var prioritySum, confidenceSum float64
	for _, card := range latest {
		stats.ByStatus[card.Status]++
		stats.BySeverity[card.Severity]++
		stats.ByType[card.Type]++
		prioritySum += float64(card.Priority)
		confidenceSum += card.Confidence
	}
	stats.Total = len(latest)
	if stats.Total > 0 {
		stats.AveragePriority = prioritySum / float64(stats.Total)
		stats.AverageConfidence = confidenceSum / float64(stats.Total)
	}
	return stats, nil
}

// ApprovalOutcomes counts the approve-vs-dismiss decisions made over
// analyzer's tasks, satisfying internal/autoapprove's HistoryProvider so
// the historical-approval-rate gate can query this store directly. A task
// whose latest status is approved or completed counts as approved (it
// reached approval; later completion doesn't change the decision that was
// made). Errors reading the store are treated as "no history" rather than
// surfaced, since a history lookup backs an optimization, not a required
// operation.
func (s *Store) ApprovalOutcomes(analyzer string) (approved, dismissed int) {
	latest, _, err := s.loadAll()
	if err != nil {
		return 0, 0
	}
	for _, card := range latest {
		if card.Analyzer != analyzer {
			continue
		}
		switch card.Status {
		case taskcard.StatusApproved, taskcard.StatusCompleted:
			approved++
		case taskcard.StatusDismissed:
			dismissed++
		}
	}
	return approved, dismissed
}

// Cleanup rewrites the file once, dropping dismissed tasks whose
// DismissedAt predates the threshold, under the exclusive writer lock.
// All other tasks are preserved with their latest state. Streams to a
// temp file then atomically renames.
func (s *Store) Cleanup(daysOld int) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	latest, _, err := s.loadAll()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)
	removed := 0

	tmpPath := s.path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("taskstore: create temp file: %w", err)
	}

	writer := bufio.NewWriter(tmpFile)
	for _, card := range latest {
		if card.Status == taskcard.StatusDismissed && card.DismissedAt != nil && card.DismissedAt.Before(cutoff) {
			removed++
			continue
		}
		data, err := json.Marshal(card)
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("taskstore: marshal task %s: %w", card.ID, err)
		}
		if _, err := writer.Write(append(data, '\n')); err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("taskstore: write temp file: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("taskstore: flush temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("taskstore: sync temp file: %w", err)
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("taskstore: replace %s: %w", s.path, err)
	}

	if removed > 0 {
		s.notifyChanged()
	}
	return removed, nil
}

// Path returns the JSONL file path, for the file-watcher in
// internal/broadcast.
func (s *Store) Path() string {
	return s.path
}
