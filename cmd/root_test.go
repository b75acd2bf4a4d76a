package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphbench/internal/runner"
	"graphbench/internal/storage"
)

func TestParseTarget(t *testing.T) {
	sim, err := parseTarget("sim:spike")
	require.NoError(t, err)
	assert.Equal(t, "spike", sim.profile)
	assert.Nil(t, sim.client)
	unit, err := sim.unit(nil)
	require.NoError(t, err)
	assert.Equal(t, "sim:spike", unit.Name())

	bad, err := parseTarget("sim:nope")
	require.NoError(t, err)
	_, err = bad.unit(nil)
	assert.Error(t, err)

	_, err = parseTarget("  ")
	assert.Error(t, err)

	rg, err := parseTarget("localhost:6380")
	require.NoError(t, err)
	defer rg.Close()
	require.NotNil(t, rg.client)
	assert.Equal(t, "localhost:6380", rg.client.Options().Addr)
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("redis://:secret@db.internal:6379/2")
	require.NoError(t, err)
	assert.Equal(t, "db.internal:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = redisOptions("redis://db.internal:6379/notanumber")
	assert.Error(t, err)
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	renderHistory(&buf, nil)
	assert.Contains(t, buf.String(), "no runs recorded")

	item, err := storage.NewHistoryItem(runner.Config{TargetRate: 20, Duration: time.Second}, runner.Summary{
		Name:       "nightly",
		Unit:       "sim:fast",
		State:      "completed",
		TargetRate: 20,
		Success:    19,
		Errors:     1,
		Aborted:    true,
	})
	require.NoError(t, err)

	buf.Reset()
	renderHistory(&buf, []storage.HistoryItem{item})
	out := buf.String()
	assert.Contains(t, out, item.ID[:8])
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "19/1/0")
	assert.Contains(t, out, "aborted")
}

func TestIdsCommands(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "chains.ids")
	require.NoError(t, os.WriteFile(in, []byte("# header\na,b,c\na,d\ne\n"), 0o644))
	out := filepath.Join(dir, "merged.ids")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"ids", "inspect", in})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Relationships")
	assert.Contains(t, buf.String(), "Max depth")

	buf.Reset()
	rootCmd.SetArgs([]string{"ids", "convert", in, out})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "wrote 5 ids")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a,b,c")
	assert.Contains(t, string(data), "a,d")
}
