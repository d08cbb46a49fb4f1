package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const model = "testdata/gallery.yaml"

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = cli(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

// sqliteConfig writes a configuration that keeps the database and the commit
// log under a temporary directory.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "graphsync.yaml")
	content := fmt.Sprintf(`model: %s
storage:
  driver: sqlite
  sqlite_path: %s
  apply_ddl: true
commit_log:
  driver: fs
  fs_root: %s
metrics:
  backend: expvar
`, model, filepath.Join(dir, "gallery.db"), filepath.Join(dir, "commitlog"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	code, out, errOut := run(t, "validate", "--model", model)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "2 entities, 2 tables")
}

func TestValidateWithoutModel(t *testing.T) {
	code, _, errOut := run(t, "validate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no entity model")
}

func TestDDLCommand(t *testing.T) {
	code, out, errOut := run(t, "ddl", "--model", model, "--dialect", "sqlite")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "ARTIST"`)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "PAINTING"`)
	assert.Contains(t, out, "AUTO_PK_SUPPORT")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.True(t, strings.HasSuffix(line, ";"), line)
	}

	code, _, errOut = run(t, "ddl", "--model", model, "--dialect", "oracle")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown dialect")
}

func TestApplyCommand(t *testing.T) {
	code, out, errOut := run(t, "apply", "--config", sqliteConfig(t))
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Schema applied to")

	script := filepath.Join(t.TempDir(), "seed.sql")
	require.NoError(t, os.WriteFile(script, []byte("CREATE INDEX IF NOT EXISTS PAINTING_TITLE ON PAINTING (TITLE);\n"), 0o600))
	code, _, errOut = run(t, "apply", "--config", sqliteConfig(t), "--script", script)
	require.Equal(t, 0, code, errOut)

	t.Setenv("GRAPHSYNC_STORAGE_DRIVER", "memory")
	code, _, errOut = run(t, "apply", "--model", model)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "sqlite or postgres")
}

func TestLoadAndLogCommands(t *testing.T) {
	cfg := sqliteConfig(t)

	code, out, errOut := run(t, "load", "testdata/objects.yaml", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Committed 3 objects")

	code, out, errOut = run(t, "log", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	keys := strings.Fields(out)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "commitlog/"))
	assert.True(t, strings.HasSuffix(keys[0], ".json"))

	code, out, errOut = run(t, "log", "--config", cfg, "--show")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"Painting"`)
	assert.Contains(t, out, `"Artist"`)

	code, out, errOut = run(t, "log", "--config", cfg, "1999/")
	require.Equal(t, 0, code, errOut)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestLoadRejectsUnknownRef(t *testing.T) {
	objects := filepath.Join(t.TempDir(), "objects.yaml")
	require.NoError(t, os.WriteFile(objects, []byte(`objects:
  - entity: Painting
    values: {title: Olympia}
    relationships: {artist: manet}
`), 0o600))
	code, _, errOut := run(t, "load", objects, "--config", sqliteConfig(t))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `unknown ref "manet"`)
}

func TestLoadBlockedByMandatoryRule(t *testing.T) {
	objects := filepath.Join(t.TempDir(), "objects.yaml")
	require.NoError(t, os.WriteFile(objects, []byte(`objects:
  - entity: Painting
    values: {price: 3.5}
`), 0o600))
	code, _, errOut := run(t, "load", objects, "--config", sqliteConfig(t))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Painting.title is mandatory")
}

func TestLogWithoutCommitLog(t *testing.T) {
	code, _, errOut := run(t, "log", "--model", model)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "commit log is disabled")
}
