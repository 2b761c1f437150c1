package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/chunkplace/internal/config"
	"github.com/zzenonn/chunkplace/internal/css"
)

const seedDump = "/css_meta/version\t1\n" +
	"/DBS/TESTDB/TABLES/TBL123/CHUNKS/333/REPLICAS/1.json\t{\"nodeName\": \"worker333\"}\n"

func useConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func execAssign(t *testing.T, save bool, args ...string) (string, error) {
	t.Helper()
	require.NoError(t, assignCmd.Flags().Set("save", strconv.FormatBool(save)))
	t.Cleanup(func() { _ = assignCmd.Flags().Set("save", "false") })

	var out bytes.Buffer
	assignCmd.SetOut(&out)
	assignCmd.SetContext(context.Background())
	err := assignCmd.RunE(assignCmd, args)
	return out.String(), err
}

func runAssign(t *testing.T, save bool, args ...string) string {
	t.Helper()
	out, err := execAssign(t, save, args...)
	require.NoError(t, err)
	return out
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3", "4"}, splitArgs([]string{"1,2", " 3 ", "4,"}))
}

func TestAssign_SaveThroughDumpFile(t *testing.T) {
	dumpFile := filepath.Join(t.TempDir(), "css.tsv")
	require.NoError(t, os.WriteFile(dumpFile, []byte(seedDump), 0o600))
	metricsFile := filepath.Join(t.TempDir(), "chunkplace.prom")

	useConfig(t, &config.Config{
		Workers:         []string{"worker1", "worker2"},
		Database:        "TESTDB",
		Table:           "TBL123",
		Store:           config.StoreConfig{Backend: config.BackendMemory, DumpFile: dumpFile},
		MetricsTextfile: metricsFile,
	})

	out := runAssign(t, true, "333", "1,2")
	assert.Equal(t, "333\tworker333\tstore\n1\tworker1\tfallback\n2\tworker2\tfallback\n", out)

	saved, err := os.ReadFile(dumpFile)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "/DBS/TESTDB/TABLES/TBL123/CHUNKS/1/REPLICAS/1.json\t{\"nodeName\":\"worker1\"}\n")

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `chunkplace_resolver_lookups_total{outcome="fallback"} 2`)

	// A second run with a different worker list reads the saved answers.
	cfg.Workers = []string{"worker1000", "worker2000"}
	out = runAssign(t, false, "2", "1", "3")
	assert.Equal(t, "2\tworker2\tstore\n1\tworker1\tstore\n3\tworker1000\tfallback\n", out)
}

func TestAssign_SaveFailsWhenDumpFileCannotBeWritten(t *testing.T) {
	dumpFile := filepath.Join(t.TempDir(), "css.tsv")
	require.NoError(t, os.WriteFile(dumpFile, []byte(seedDump), 0o600))

	// Load from the seeded file, then write into a directory that is gone.
	missing := filepath.Join(t.TempDir(), "missing", "css.tsv")
	prev := persistDump
	persistDump = func(ctx context.Context, store css.MetadataStore, _ string) error {
		return writeDumpFile(ctx, store, missing)
	}
	t.Cleanup(func() { persistDump = prev })

	useConfig(t, &config.Config{
		Workers:  []string{"worker1", "worker2"},
		Database: "TESTDB",
		Table:    "TBL123",
		Store:    config.StoreConfig{Backend: config.BackendMemory, DumpFile: dumpFile},
	})

	out, err := execAssign(t, true, "333", "1", "2")
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "persist assignments")
	assert.Empty(t, out)

	saved, err := os.ReadFile(dumpFile)
	require.NoError(t, err)
	assert.Equal(t, seedDump, string(saved))
}

func TestAssign_AutoSourceTable(t *testing.T) {
	dumpFile := filepath.Join(t.TempDir(), "css.tsv")
	require.NoError(t, os.WriteFile(dumpFile, []byte(seedDump), 0o600))

	useConfig(t, &config.Config{
		Workers:     []string{"worker1", "worker2"},
		Database:    "TESTDB",
		Table:       "Other",
		SourceTable: autoSourceTable,
		Store:       config.StoreConfig{Backend: config.BackendMemory, DumpFile: dumpFile},
	})

	out := runAssign(t, false, "333", "5")
	assert.Equal(t, "333\tworker333\tstore\n5\tworker1\tfallback\n", out)
}

func TestWriteDumpFile(t *testing.T) {
	ctx := context.Background()
	store := css.NewMemoryStore()
	require.NoError(t, store.Write(ctx, "/DBS/X", "v"))

	path := filepath.Join(t.TempDir(), "out.tsv")
	require.NoError(t, writeDumpFile(ctx, store, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/\t\\N\n/DBS\t\\N\n/DBS/X\tv\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".chunkplace-"), "temporary file left behind")
	}
}

func TestWriteDumpFile_MissingDirectory(t *testing.T) {
	store := css.NewMemoryStore()
	path := filepath.Join(t.TempDir(), "missing", "out.tsv")

	err := writeDumpFile(context.Background(), store, path)
	require.ErrorIs(t, err, os.ErrNotExist)
}
