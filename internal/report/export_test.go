package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"graphbench/internal/runner"
	"graphbench/internal/stats"
)

func sampleDoc() Document {
	return Document{
		Config: runner.Config{Name: "nightly", TargetRate: 100, Workers: 8, Duration: 10 * time.Second},
		Summary: runner.Summary{
			Name:       "nightly",
			Unit:       "redisgraph:social",
			State:      "completed",
			TargetRate: 100,
			Success:    990,
			Errors:     10,
			Latency:    runner.LatencySummary{P50Ms: 1.5, P99Ms: 12.25},
			Timeline: []stats.TimeBucket{
				{Timestamp: 1700000000, Requests: 100, Errors: 1},
				{Timestamp: 1700000001, Requests: 99, Errors: 0},
			},
			ErrorGroups: []stats.ErrorGroup{
				{Type: "Timeout", Message: "query timed out, after 1s", Count: 10},
			},
		},
	}
}

func TestParseFormats(t *testing.T) {
	got, err := ParseFormats("")
	require.NoError(t, err)
	assert.Equal(t, AllFormats, got)

	got, err = ParseFormats(" JSON, csv ")
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatJSON, FormatCSV}, got)

	_, err = ParseFormats("json,xml")
	assert.Error(t, err)
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, sampleDoc()))

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "redisgraph:social", decoded["summary"]["unit"])
	assert.EqualValues(t, 990, decoded["summary"]["success"])
	assert.EqualValues(t, 100, decoded["config"]["target_rate"])
}

func TestExportYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportYAML(&buf, sampleDoc()))

	var decoded Document
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, sampleDoc().Summary.ErrorGroups, decoded.Summary.ErrorGroups)
	assert.Equal(t, 12.25, decoded.Summary.Latency.P99Ms)
	assert.Contains(t, buf.String(), "error_groups:")
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, sampleDoc().Summary))

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 5)
	assert.Equal(t, "timeStamp", records[0][0])
	assert.Equal(t, []string{"1700000000", "100", "1", "nightly", "redisgraph:social", "100", "1.500", "12.250"}, records[1])
	assert.Equal(t, []string{"errorType", "message", "count"}, records[3])
	assert.Equal(t, []string{"Timeout", "query timed out, after 1s", "10"}, records[4])
}

func TestWriteFiles(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run")
	paths, err := WriteFiles(prefix, sampleDoc(), AllFormats)
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + ".json", prefix + ".yaml", prefix + ".csv"}, paths)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}

	_, err = WriteFiles(filepath.Join(t.TempDir(), "missing", "run"), sampleDoc(), []Format{FormatJSON})
	assert.Error(t, err)
}
