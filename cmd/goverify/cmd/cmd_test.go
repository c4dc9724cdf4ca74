package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jakopako/goverify/internal/history"
	"github.com/jakopako/goverify/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
global:
  base_url: %s
  driver: static
  artifacts_dir: %s
  default_timeout: 300
writer:
  type: sqlite
  db_path: %s
scenarios:
  - name: gallery
    description: gallery cards are rendered
    steps:
      - navigate: /gallery
      - wait_for_selector: .gallery-card
      - screenshot: out/gallery.png
  - name: broken
    steps:
      - navigate: /missing
      - screenshot: broken.png
`

type testEnv struct {
	dir    string
	config string
	db     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="gallery-card">Abyss</div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "goverify.yml"),
		db:     filepath.Join(dir, "history.db"),
	}
	content := fmt.Sprintf(testConfig, srv.URL, filepath.Join(dir, "artifacts"), env.db)
	require.NoError(t, os.WriteFile(env.config, []byte(content), 0644))
	return env
}

// executeCmd runs the root command with args and returns its output.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := executeCmdWith(t, &out, &out, args...)
	return out.String(), err
}

func executeCmdWith(t *testing.T, out, errOut *bytes.Buffer, args ...string) error {
	t.Helper()
	// flags keep their values between executions
	runOpts = runFlags{parallel: 1}
	configPath, debugFlag, noColor = "", false, false
	listCompletion = false
	historyDB, historyLimit, historyRun = "", 20, ""

	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

// captureStdout redirects os.Stdout while f runs and returns what was written.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan []byte)
	go func() {
		b, _ := io.ReadAll(r)
		done <- b
	}()
	f()
	require.NoError(t, w.Close())
	return string(<-done)
}

func TestRunPassing(t *testing.T) {
	env := newTestEnv(t)
	out, err := executeCmd(t, "run", "--config", env.config, "--no-color", "--summary", "gallery")
	require.NoError(t, err)
	assert.Contains(t, out, "==> gallery")
	assert.Contains(t, out, "<== gallery passed")
	assert.FileExists(t, filepath.Join(env.dir, "artifacts", "out", "gallery.png"))

	store, err := history.Open(env.db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Recent(context.Background(), "gallery", 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunFailing(t *testing.T) {
	env := newTestEnv(t)
	out, err := executeCmd(t, "run", "--config", env.config, "--no-color", "--parallel", "2")
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "1 of 2 scenarios failed")
	assert.Contains(t, out, "NavigationFailed")
	assert.FileExists(t, filepath.Join(env.dir, "artifacts", "broken.png"))
}

func TestRunStdoutKeepsProgressOnStderr(t *testing.T) {
	env := newTestEnv(t)
	var out, errOut bytes.Buffer
	var err error
	stdout := captureStdout(t, func() {
		err = executeCmdWith(t, &out, &errOut, "run", "--config", env.config, "--no-color", "--summary", "--stdout", "gallery")
	})
	require.NoError(t, err)

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "==> gallery")
	assert.Contains(t, errOut.String(), "<== gallery passed")
	assert.NotContains(t, stdout, "==>")

	var result types.Result
	require.NoError(t, json.NewDecoder(strings.NewReader(stdout)).Decode(&result))
	assert.Equal(t, "gallery", result.Scenario)
	assert.True(t, result.Passed())
}

func TestRunUnknownScenario(t *testing.T) {
	env := newTestEnv(t)
	_, err := executeCmd(t, "run", "--config", env.config, "galery")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "did you mean 'gallery'?")
}

func TestRunInvalidDriver(t *testing.T) {
	env := newTestEnv(t)
	_, err := executeCmd(t, "run", "--config", env.config, "--driver", "selenium", "gallery")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "unknown driver 'selenium'")
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	out, err := executeCmd(t, "list", "--config", env.config, "-C")
	require.NoError(t, err)
	assert.Equal(t, "broken\ngallery\n", out)

	out, err = executeCmd(t, "list", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "gallery cards are rendered")

	out, err = executeCmd(t, "list", "--config", filepath.Join(env.dir, "missing.yml"), "-C")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestListBuiltin(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := executeCmd(t, "list", "-C")
	require.NoError(t, err)
	for _, name := range []string{"home", "gallery", "global-chat", "lobby", "not-found"} {
		assert.Contains(t, strings.Split(out, "\n"), name)
	}
}

func TestShow(t *testing.T) {
	env := newTestEnv(t)
	out, err := executeCmd(t, "show", "--config", env.config, "gallery")
	require.NoError(t, err)
	assert.Contains(t, out, "name: gallery")
	assert.Contains(t, out, "navigate:")
	assert.Contains(t, out, ".gallery-card")
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	_, err := executeCmd(t, "run", "--config", env.config, "gallery")
	require.NoError(t, err)

	out, err := executeCmd(t, "history", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "gallery")
	assert.Contains(t, out, "passed")

	store, err := history.Open(env.db)
	require.NoError(t, err)
	runs, err := store.Recent(context.Background(), "", 1)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, runs, 1)

	out, err = executeCmd(t, "history", "--db", env.db, "--run", runs[0].RunID[:8])
	require.NoError(t, err)
	assert.Contains(t, out, "navigate to /gallery")
}

func TestVersion(t *testing.T) {
	out, err := executeCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, getVersion()+"\n", out)
}
