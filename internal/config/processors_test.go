package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProcessorsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "processors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProcessorsFile(t *testing.T) {
	path := writeProcessorsFile(t, `
processors:
  player_summary:
    output_table: analytics.player_summary
    output_date_column: game_date
    entity_column: player_id
    expected_window: 10
    gap_auto_threshold: 3
    dependencies:
      - source: raw.game_logs
        date_field: game_date
        critical: true
        staleness_fail_hours: 24
  team_rollup:
    output_table: analytics.team_rollup
    output_date_column: game_date
`)

	procs, err := LoadProcessorsFile(path)
	require.NoError(t, err)
	require.Len(t, procs, 2)

	ps := procs["player_summary"]
	assert.Equal(t, "analytics.player_summary", ps.OutputTable)
	assert.Equal(t, "player_id", ps.EntityColumn)
	assert.Equal(t, 3, ps.GapAutoThreshold)
	require.Len(t, ps.Dependencies, 1)
	assert.Equal(t, "raw.game_logs", ps.Dependencies[0].Source)
	assert.True(t, ps.Dependencies[0].Critical)
	assert.Equal(t, 24, ps.Dependencies[0].StalenessFailHours)

	assert.Equal(t, "analytics.team_rollup", procs["team_rollup"].OutputTable)
}

func TestLoadProcessorsFile_Missing(t *testing.T) {
	_, err := LoadProcessorsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadProcessorsFile_Empty(t *testing.T) {
	path := writeProcessorsFile(t, "processors: {}\n")
	_, err := LoadProcessorsFile(path)
	assert.Error(t, err)
}

func TestLoadProcessorsFile_Malformed(t *testing.T) {
	path := writeProcessorsFile(t, "processors: [not a map")
	_, err := LoadProcessorsFile(path)
	assert.Error(t, err)
}
