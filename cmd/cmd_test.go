package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/app"
	"github.com/archivist-dev/archivist/internal/config"
	"github.com/archivist-dev/archivist/internal/query"
)

func useTestApp(t *testing.T) {
	t.Helper()

	shots := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	require.NoError(t, os.WriteFile(filepath.Join(shots, "desk setup.png"), buf.Bytes(), 0o644))

	cfg := config.Config{
		DataDir: t.TempDir(),
		Server:  config.ServerConfig{Port: 8092},
		Sync:    config.SyncConfig{Concurrency: 2, ItemTimeoutSeconds: 10, ThumbWidth: 40},
		Screenshots: config.ScreenshotsConfig{
			Enabled:   true,
			Directory: shots,
		},
	}

	previous := newApp
	newApp = func() (*app.App, error) {
		return app.New(cfg, zap.NewNop())
	}
	t.Cleanup(func() { newApp = previous })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFetchThenSearch(t *testing.T) {
	useTestApp(t)

	_, err := execute(t, "fetch")
	require.NoError(t, err)

	out, err := execute(t, "search", "desk")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)

	var result query.Result
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &result))
	require.Equal(t, "screenshots", result.Meta.Source)
	require.Equal(t, "desk setup", result.Meta.Title)
}

func TestSearchJSONFlagPrintsArray(t *testing.T) {
	useTestApp(t)

	_, err := execute(t, "fetch")
	require.NoError(t, err)

	out, err := execute(t, "search", "desk", "--json")
	require.NoError(t, err)

	var results []query.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
}

func TestFetchUnknownSourceFails(t *testing.T) {
	useTestApp(t)

	_, err := execute(t, "fetch", "instagram")
	require.Error(t, err)
}

func TestConfigCommandCreatesFile(t *testing.T) {
	t.Setenv("EDITOR", "")

	path := filepath.Join(t.TempDir(), "config.json")
	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Contains(t, out, path)
}
