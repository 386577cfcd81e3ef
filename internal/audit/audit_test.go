package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitAppendsRecordToHourlyFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.Emit(ActionGenerated, "task-1", "error_spike", map[string]any{"priority": 80}))
	require.NoError(t, w.Emit(ActionApproved, "task-1", "error_spike", nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var records []Record
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		records = append(records, r)
	}
	require.Len(t, records, 2)
	assert.Equal(t, ActionGenerated, records[0].Act)
	assert.Equal(t, ActionApproved, records[1].Act)
	assert.Equal(t, "system", records[0].Actor)
	assert.Equal(t, "ok", records[0].Status)
}
