package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/daemon"
	"github.com/Aman-CERP/docsearch/internal/storage"
)

// startTestDaemon runs an in-memory daemon and points the CLI at its socket.
func startTestDaemon(t *testing.T) {
	t.Helper()
	isolateConfig(t)

	socketPath := filepath.Join("/tmp", fmt.Sprintf("docsearch-cli-%d.sock", time.Now().UnixNano()))
	t.Setenv("DOCSEARCH_SOCKET", socketPath)

	app := config.NewConfig()
	app.Storage.Type = config.StorageMemory
	app.Engine.CommitInterval = 20 * time.Millisecond
	cfg := daemon.Config{
		SocketPath:          socketPath,
		PIDPath:             filepath.Join(t.TempDir(), "daemon.pid"),
		Timeout:             5 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
	}
	d, err := daemon.NewDaemon(cfg, app, daemon.WithBackend(storage.NewMemory()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
		os.Remove(socketPath)
	})

	require.Eventually(t, daemon.NewClient(cfg).IsRunning, 5*time.Second, 10*time.Millisecond)
}

func searchJSON(t *testing.T, args ...string) daemon.SearchResult {
	t.Helper()
	out, err := runCLI(t, nil, append([]string{"search"}, append(args, "--json")...)...)
	require.NoError(t, err)
	var res daemon.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func TestCLI_EndToEnd(t *testing.T) {
	startTestDaemon(t)

	// Given: an index created from the command line
	out, err := runCLI(t, nil, "index", "create", "books",
		"--field", "isbn:id", "--field", "title:string:true", "--field", "year:long:true")
	require.NoError(t, err)
	assert.Contains(t, out, "Index [books]: Successful")

	// When: adding documents from stdin
	docs := `{"docs":[{"isbn":"1","title":"Dune","year":1965},{"isbn":"2","title":"Emma","year":1815}]}`
	out, err = runCLI(t, strings.NewReader(docs), "docs", "add", "books")
	require.NoError(t, err)
	assert.Contains(t, out, "[2] document(s) have been scheduled for indexing")

	// Then: both become searchable after a commit
	require.Eventually(t, func() bool {
		return searchJSON(t, "books").Total == 2
	}, 5*time.Second, 20*time.Millisecond)

	res := searchJSON(t, "books", "year:>=1900")
	require.Len(t, res.Docs, 1)
	title, _ := res.Docs[0].Get("title")
	assert.Equal(t, "Dune", title.Text())

	// And: the table view lists stored fields
	out, err = runCLI(t, nil, "search", "books", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 hit(s), showing 1 from 0")
	assert.Contains(t, out, "--bookmark ")

	// When: deleting by term
	out, err = runCLI(t, nil, "docs", "delete", "books", "--term", "isbn=1")
	require.NoError(t, err)
	assert.Contains(t, out, "Documents of index [books] have been scheduled for deleting")
	require.Eventually(t, func() bool {
		return searchJSON(t, "books").Total == 1
	}, 5*time.Second, 20*time.Millisecond)

	// When: truncating
	out, err = runCLI(t, nil, "index", "truncate", "books")
	require.NoError(t, err)
	assert.Contains(t, out, "Index [books] has been scheduled for truncating")
	require.Eventually(t, func() bool {
		return searchJSON(t, "books").Total == 0
	}, 5*time.Second, 20*time.Millisecond)

	// Then: status reports the index and the worker's work
	out, err = runCLI(t, nil, "daemon", "status", "--json")
	require.NoError(t, err)
	var status daemon.StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Running)
	require.Len(t, status.Engines, 1)
	assert.Equal(t, "books", status.Engines[0].Name)
	assert.Equal(t, uint64(4), status.Worker.Processed+status.Worker.NoOps)
	assert.Zero(t, status.Worker.Failed)
	assert.Zero(t, status.Worker.Dropped)
}

func TestCLI_DocsAddFromFile(t *testing.T) {
	startTestDaemon(t)

	file := filepath.Join(t.TempDir(), "docs.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"title":"a"},{"title":"b"},{"title":"c"}]`), 0644))

	out, err := runCLI(t, nil, "docs", "add", "notes", "--file", file)

	require.NoError(t, err)
	assert.Contains(t, out, "[3] document(s) have been scheduled for indexing")
}

func TestCLI_ErrorsFromDaemon(t *testing.T) {
	startTestDaemon(t)

	_, err := runCLI(t, nil, "search", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index [missing] does not exist")
	assert.Contains(t, err.Error(), "status 400")

	out, err := runCLI(t, nil, "index", "truncate", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "maybe it doesnot exist?")
}

func TestCLI_DaemonStatus(t *testing.T) {
	startTestDaemon(t)

	out, err := runCLI(t, nil, "daemon", "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Daemon is running")
	assert.Contains(t, out, "memory")
	assert.Contains(t, out, "Searches:")
	assert.Contains(t, out, "Heap:")
	assert.Contains(t, out, "No indexes loaded")
}

func TestCLI_DaemonStatus_NotRunning(t *testing.T) {
	isolateConfig(t)
	t.Setenv("DOCSEARCH_SOCKET", "/tmp/docsearch-cli-none.sock")

	out, err := runCLI(t, nil, "daemon", "status", "--json")

	require.NoError(t, err)
	var status daemon.StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.False(t, status.Running)
}
