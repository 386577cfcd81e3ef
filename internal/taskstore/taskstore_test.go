package taskstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

func mustCard(t *testing.T, title string) taskcard.TaskCard {
	t.Helper()
	card, err := taskcard.New(taskcard.TypeErrorSpike, taskcard.SeverityHigh, title, "desc",
		taskcard.Evidence{Summary: "s"}, taskcard.SuggestedFix{}, []string{"a"}, 0.9, "error_spike", time.Now())
	require.NoError(t, err)
	return card
}

func TestSaveAndLoadLastWriteWins(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	card := mustCard(t, "first")
	require.NoError(t, store.Save(card))

	updated := card
	updated.Title = "updated"
	require.NoError(t, store.Save(updated))

	loaded, err := store.Get(card.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", loaded.Title)

	all, err := store.Load(taskcard.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("nope")
	require.Error(t, err)
	var nf *NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestTransitionsAppendNewRecord(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	card := mustCard(t, "t1")
	require.NoError(t, store.Save(card))

	approved, err := store.Approve(card.ID)
	require.NoError(t, err)
	assert.Equal(t, taskcard.StatusApproved, approved.Status)

	completed, err := store.Complete(card.ID)
	require.NoError(t, err)
	assert.Equal(t, taskcard.StatusCompleted, completed.Status)

	_, err = store.Dismiss(card.ID, "already done")
	require.Error(t, err)
}

func TestCleanupRemovesOldDismissed(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	card := mustCard(t, "old")
	require.NoError(t, store.Save(card))
	dismissed, err := store.Dismiss(card.ID, "stale")
	require.NoError(t, err)

	old := time.Now().UTC().AddDate(0, 0, -40)
	dismissed.DismissedAt = &old
	require.NoError(t, appendLine(store.path, dismissed))

	keep := mustCard(t, "keep-me")
	require.NoError(t, store.Save(keep))

	removed, err := store.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err := store.Load(taskcard.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep-me", all[0].Title)
}

func TestChangedSignalsOnMutation(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(mustCard(t, "x")))

	select {
	case <-store.Changed():
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
}

func TestStatsAggregates(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(mustCard(t, "a")))
	require.NoError(t, store.Save(mustCard(t, "b")))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[taskcard.StatusGenerated])
}

func TestApprovalOutcomesCountsApprovedAndCompleted(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	a := mustCard(t, "a")
	require.NoError(t, store.Save(a))
	_, err = store.Approve(a.ID)
	require.NoError(t, err)

	// A completed task still counts as an approval decision.
	b := mustCard(t, "b")
	require.NoError(t, store.Save(b))
	_, err = store.Approve(b.ID)
	require.NoError(t, err)
	_, err = store.Complete(b.ID)
	require.NoError(t, err)

	c := mustCard(t, "c")
	require.NoError(t, store.Save(c))
	_, err = store.Dismiss(c.ID, "noise")
	require.NoError(t, err)

	// Still generated: no decision yet, counted in neither bucket.
	require.NoError(t, store.Save(mustCard(t, "d")))

	approved, dismissed := store.ApprovalOutcomes("error_spike")
	assert.Equal(t, 2, approved)
	assert.Equal(t, 1, dismissed)
}

func TestSecondOpenFailsUntilFirstCloses(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir)
	require.NoError(t, err)

	_, err = Open(dir)
	require.Error(t, err)

	first.Close()

	second, err := Open(dir)
	require.NoError(t, err)
	second.Close()
}
