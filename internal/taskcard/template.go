package taskcard

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Template is a record with titlePattern and descriptionPattern containing
// {variable} placeholders, plus default severity, priority, suggested fix,
// and acceptance criteria.
type Template struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	TitlePattern       string       `json:"titlePattern"`
	DescriptionPattern string       `json:"descriptionPattern"`
	DefaultSeverity    Severity     `json:"defaultSeverity"`
	DefaultPriority    int          `json:"defaultPriority"`
	DefaultFix         SuggestedFix `json:"defaultFix"`
	AcceptanceCriteria []string     `json:"acceptanceCriteria"`
	Tags               []string     `json:"tags,omitempty"`
	BuiltIn            bool         `json:"builtIn"`
}

// builtinTemplates is the fixed set of immutable built-in templates, one
// per analyzer type.
var builtinTemplates = []Template{
	{
		ID:                 "continuation-default",
		Name:               "Continuation issue",
		TitlePattern:       "Investigate continuation rate for {scope}",
		DescriptionPattern: "Responses in {scope} are being truncated at an elevated rate ({rate}).",
		DefaultSeverity:    SeverityMedium,
		DefaultPriority:    50,
		DefaultFix:         SuggestedFix{Approach: "increase_max_tokens"},
		AcceptanceCriteria: []string{"Continuation rate returns below threshold"},
		Tags:               []string{"continuation_issue"},
		BuiltIn:            true,
	},
	{
		ID:                 "error-spike-default",
		Name:               "Error spike",
		TitlePattern:       "Investigate {multiplier}x error spike: {name}",
		DescriptionPattern: "Errors for {name} are running at {multiplier}x the 7-day baseline.",
		DefaultSeverity:    SeverityHigh,
		DefaultPriority:    75,
		DefaultFix:         SuggestedFix{Approach: "add_error_handling"},
		AcceptanceCriteria: []string{"Error rate returns to baseline"},
		Tags:               []string{"error_spike"},
		BuiltIn:            true,
	},
	{
		ID:                 "docs-gap-default",
		Name:               "Documentation gap",
		TitlePattern:       "Document tool {name}",
		DescriptionPattern: "Tool {name} has been called {count} times without documentation.",
		DefaultSeverity:    SeverityMedium,
		DefaultPriority:    50,
		DefaultFix:         SuggestedFix{Approach: "write_documentation"},
		AcceptanceCriteria: []string{"Tool has a documentation entry"},
		Tags:               []string{"documentation_gap"},
		BuiltIn:            true,
	},
	{
		ID:                 "performance-default",
		Name:               "Performance degradation",
		TitlePattern:       "Investigate latency regression in {group}",
		DescriptionPattern: "p95 latency for {group} is {ratio}x the 7-day baseline.",
		DefaultSeverity:    SeverityMedium,
		DefaultPriority:    50,
		DefaultFix:         SuggestedFix{Approach: "profile_and_optimize"},
		AcceptanceCriteria: []string{"p95 latency returns to baseline"},
		Tags:               []string{"performance_degradation"},
		BuiltIn:            true,
	},
	{
		ID:                 "ux-issue-default",
		Name:               "UX issue",
		TitlePattern:       "Investigate user experience issue: {kind}",
		DescriptionPattern: "{percentage} of conversations are affected by {kind}.",
		DefaultSeverity:    SeverityMedium,
		DefaultPriority:    50,
		DefaultFix:         SuggestedFix{Approach: "ux_review"},
		AcceptanceCriteria: []string{"Affected conversation ratio returns below threshold"},
		Tags:               []string{"ux_issue"},
		BuiltIn:            true,
	},
}

// TemplateRegistry holds the built-in templates plus any user-added ones.
// Built-in ids may never be created, updated, or deleted.
type TemplateRegistry struct {
	mu   sync.RWMutex
	user map[string]Template

	path string // tasks/templates.json, empty if not persisted
}

// NewTemplateRegistry returns a registry seeded with the built-in templates,
// with no disk persistence.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{user: make(map[string]Template)}
}

// LoadTemplateRegistry loads user templates from path (tasks/templates.json),
// if present, and persists future mutations
// back to it via an atomic rewrite, mirroring the task store's Cleanup
// rewrite idiom.
func LoadTemplateRegistry(path string) (*TemplateRegistry, error) {
	r := &TemplateRegistry{user: make(map[string]Template), path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskcard: read template registry %s: %w", path, err)
	}
	var stored []Template
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("taskcard: parse template registry %s: %w", path, err)
	}
	for _, t := range stored {
		r.user[t.ID] = t
	}
	return r, nil
}

// save rewrites the persisted user-template file atomically. A no-op when
// the registry was built without a path (NewTemplateRegistry).
func (r *TemplateRegistry) save() error {
	if r.path == "" {
		return nil
	}
	out := make([]Template, 0, len(r.user))
	for _, t := range r.user {
		out = append(out, t)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("taskcard: marshal template registry: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("taskcard: write temp template registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("taskcard: replace template registry: %w", err)
	}
	return nil
}

func isBuiltin(id string) bool {
	for _, t := range builtinTemplates {
		if t.ID == id {
			return true
		}
	}
	return false
}

// List returns every template, built-in and user-defined.
func (r *TemplateRegistry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Template{}, builtinTemplates...)
	for _, t := range r.user {
		out = append(out, t)
	}
	return out
}

// Get looks up a template by id.
func (r *TemplateRegistry) Get(id string) (Template, bool) {
	for _, t := range builtinTemplates {
		if t.ID == id {
			return t, true
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.user[id]
	return t, ok
}

// Create adds a new user template. Fails if id collides with a built-in.
func (r *TemplateRegistry) Create(t Template) error {
	if isBuiltin(t.ID) {
		return fmt.Errorf("taskcard: cannot create over built-in template %q", t.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user[t.ID] = t
	return r.save()
}

// Update replaces a user template. Fails for built-in ids or unknown ids.
func (r *TemplateRegistry) Update(t Template) error {
	if isBuiltin(t.ID) {
		return fmt.Errorf("taskcard: cannot update built-in template %q", t.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.user[t.ID]; !ok {
		return fmt.Errorf("taskcard: template %q not found", t.ID)
	}
	r.user[t.ID] = t
	return r.save()
}

// Delete removes a user template. Fails for built-in ids.
func (r *TemplateRegistry) Delete(id string) error {
	if isBuiltin(id) {
		return fmt.Errorf("taskcard: cannot delete built-in template %q", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.user[id]; !ok {
		return fmt.Errorf("taskcard: template %q not found", id)
	}
	delete(r.user, id)
	return r.save()
}

// ErrUnreplacedVariable is returned when InstantiateFromTemplate finds a
// remaining {placeholder} after substitution.
type ErrUnreplacedVariable struct {
	Name string
}

func (e *ErrUnreplacedVariable) Error() string {
	return fmt.Sprintf("taskcard: unreplaced template variable {%s}", e.Name)
}

// InstantiateFromTemplate performs textual substitution of {name} tokens in
// title and description; any unreplaced token is a hard error rather than
// a silent leave-in-place. The resulting task has analyzer="template" and
// confidence=1.0.
func InstantiateFromTemplate(r *TemplateRegistry, id string, variables map[string]string, now time.Time) (TaskCard, error) {
	tmpl, ok := r.Get(id)
	if !ok {
		return TaskCard{}, fmt.Errorf("taskcard: template %q not found", id)
	}

	title, err := substitute(tmpl.TitlePattern, variables)
	if err != nil {
		return TaskCard{}, err
	}
	description, err := substitute(tmpl.DescriptionPattern, variables)
	if err != nil {
		return TaskCard{}, err
	}

	evidence := Evidence{Summary: title}
	acceptance := tmpl.AcceptanceCriteria
	if len(acceptance) == 0 {
		acceptance = []string{"Resolved"}
	}

	card := TaskCard{
		ID:                 NewID(now),
		Type:               TypeTemplate,
		Severity:           tmpl.DefaultSeverity,
		Status:             StatusGenerated,
		Title:              title,
		Description:        description,
		Evidence:           evidence,
		SuggestedFix:       tmpl.DefaultFix,
		AcceptanceCriteria: acceptance,
		Priority:           tmpl.DefaultPriority,
		Confidence:         1.0,
		Analyzer:           "template",
		GeneratedAt:        now,
	}
	if err := card.validate(); err != nil {
		return TaskCard{}, err
	}
	return card, nil
}

func substitute(pattern string, variables map[string]string) (string, error) {
	result := pattern
	for k, v := range variables {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	if idx := strings.IndexByte(result, '{'); idx != -1 {
		end := strings.IndexByte(result[idx:], '}')
		if end != -1 {
			name := result[idx+1 : idx+end]
			return "", &ErrUnreplacedVariable{Name: name}
		}
	}
	return result, nil
}
