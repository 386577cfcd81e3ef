package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

func mkEvent(id string, actor event.Actor, act, name, status, finishReason string, elapsed float64, ts time.Time) event.Event {
	return event.Event{
		ID: id, TS: ts, Actor: actor, Act: act, Name: name, Status: status,
		FinishReason: finishReason, ElapsedMs: elapsed, ConvID: "conv-" + id,
	}
}

type panicAnalyzer struct{}

func (panicAnalyzer) Name() string  { return "boom" }
func (panicAnalyzer) Enabled() bool { return true }
func (panicAnalyzer) Analyze(Context) []taskcard.TaskCard {
	panic("deliberate failure")
}

func TestRegistryIsolatesPanics(t *testing.T) {
	reg := NewRegistry(panicAnalyzer{}, NewDocsGapAnalyzer(1, false))
	cards, results := reg.Run(context.Background(), Context{})
	assert.Empty(t, cards)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
}

func TestContinuationAnalyzerFiresOnHighTruncationRatio(t *testing.T) {
	now := time.Now()
	var events []event.Event
	for i := 0; i < 25; i++ {
		reason := ""
		if i < 6 {
			reason = "length"
		}
		events = append(events, mkEvent("e"+string(rune('a'+i%26)), event.ActorAssistant, "turn", "", "ok", reason, 0, now))
	}

	a := NewContinuationAnalyzer(0.15, true)
	cards := a.Analyze(Context{Events: events, Window: Window{DurationMs: 3600000}})
	require.Len(t, cards, 1)
	assert.Equal(t, "continuation_issue", cards[0].Analyzer)
	assert.Equal(t, taskcard.SeverityHigh, cards[0].Severity)
}

func TestContinuationAnalyzerAbstainsBelowMinSamples(t *testing.T) {
	a := NewContinuationAnalyzer(0.15, true)
	cards := a.Analyze(Context{Events: []event.Event{{Actor: event.ActorAssistant, FinishReason: "length"}}})
	assert.Empty(t, cards)
}

func TestErrorSpikeAnalyzerAbstainsWithoutBaseline(t *testing.T) {
	now := time.Now()
	var events []event.Event
	for i := 0; i < 8; i++ {
		events = append(events, mkEvent("e"+string(rune('a'+i)), event.ActorSystem, "tool_call", "flaky_tool", "error", "", 10, now))
	}

	a := NewErrorSpikeAnalyzer(3.0, true)
	cards := a.Analyze(Context{Events: events, Window: Window{DurationMs: 3600000}})
	assert.Empty(t, cards)
}

func TestErrorSpikeAnalyzerFiresAboveBaselineMultiplier(t *testing.T) {
	now := time.Now()
	var events []event.Event
	for i := 0; i < 20; i++ {
		events = append(events, mkEvent("e"+string(rune('a'+i)), event.ActorSystem, "tool_call", "flaky_tool", "error", "", 10, now))
	}

	a := NewErrorSpikeAnalyzer(3.0, true)
	cards := a.Analyze(Context{
		Events:    events,
		Window:    Window{DurationMs: 3600000},
		Baselines: Baselines{ErrorsPerHour: 2, ErrorsPerHourValid: true},
	})
	require.Len(t, cards, 1)
	assert.Equal(t, "error_spike", cards[0].Analyzer)
}

func TestDocsGapAnalyzerRespectsPredicate(t *testing.T) {
	now := time.Now()
	var events []event.Event
	for i := 0; i < 25; i++ {
		events = append(events, mkEvent("e"+string(rune('a'+i%20)), event.ActorAssistant, "tool_call", "undocumented_tool", "ok", "", 5, now))
	}

	a := NewDocsGapAnalyzer(20, true)
	cards := a.Analyze(Context{Events: events, DocPredicate: func(name string) bool { return false }})
	require.Len(t, cards, 1)
	assert.Contains(t, cards[0].Title, "undocumented_tool")

	documented := a.Analyze(Context{Events: events, DocPredicate: func(name string) bool { return true }})
	assert.Empty(t, documented)
}

func TestUXIssueAnalyzerFiresOnHighAbortRatio(t *testing.T) {
	now := time.Now()
	var events []event.Event
	for i := 0; i < 10; i++ {
		status := "ok"
		if i < 4 {
			status = "aborted"
		}
		e := mkEvent("e"+string(rune('a'+i)), event.ActorUser, "message", "", status, "", 0, now)
		e.ConvID = "conv-" + string(rune('a'+i))
		events = append(events, e)
	}

	a := NewUXIssueAnalyzer(0.2, true)
	cards := a.Analyze(Context{Events: events})
	require.Len(t, cards, 1)
	assert.Equal(t, "ux_issue", cards[0].Analyzer)
}

func TestPerformanceAnalyzerRequiresBaseline(t *testing.T) {
	a := NewPerformanceAnalyzer(1.5, true)
	cards := a.Analyze(Context{Events: []event.Event{{Name: "op"}}})
	assert.Empty(t, cards)
}
