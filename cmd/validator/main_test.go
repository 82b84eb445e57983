package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator/internal/config"
)

func TestOpenStore_BoltSeeded(t *testing.T) {
	rc := &config.ReplicaWorker{ID: "1", StorePath: filepath.Join(t.TempDir(), "inv.db"), Seed: true}

	store, err := openStore(rc)
	require.NoError(t, err)
	p, err := store.Get("P002")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Mouse", p.Name)
	require.NoError(t, store.Close())

	// reopening without seed keeps the data
	rc.Seed = false
	store, err = openStore(rc)
	require.NoError(t, err)
	defer store.Close()
	all, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpenStore_MemoryAlwaysSeeded(t *testing.T) {
	store, err := openStore(&config.ReplicaWorker{ID: "2"})
	require.NoError(t, err)
	p, _ := store.Get("P001")
	require.NotNil(t, p)
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	lines := `{"ts":1700000000.1,"event":"request_started","request_id":"1","targets":["1","2"]}
{"ts":1700000000.5,"event":"vote_result","request_id":"1","status":"no_consensus","discrepant":["1","2"]}
`
	path := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"report", "--events", path, "--out", dir})
	require.NoError(t, rootCmd.Execute())

	assert.True(t, strings.Contains(out.String(), "summarized 1 requests (1 without consensus)"))
	_, err := os.Stat(filepath.Join(dir, "metrics_summary.html"))
	assert.NoError(t, err)
}
