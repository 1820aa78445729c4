package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stemdeck/internal/reaper"
	"github.com/cesargomez89/stemdeck/internal/store"
)

// writeConfig points every directory at a temp root and returns the config path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	body := fmt.Sprintf(`db_path: %[1]s/stemdeck.db
downloads_dir: %[1]s/downloads
stems_cache_dir: %[1]s/stems
bpm_cache_dir: %[1]s/bpm
uploads_dir: %[1]s/uploads
task_expiry: 1h
`, root)
	path := filepath.Join(root, "stemdeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configFile, verbose, sweepDryRun, cacheKind, cacheJSON = "", false, false, "", false
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	out, err := run(t, "hash", path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad  "+path+"\n", out)

	_, err = run(t, "hash", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSweep_DryRun(t *testing.T) {
	cfgPath, root := writeConfig(t)

	old := filepath.Join(root, "downloads", "old-task")
	fresh := filepath.Join(root, "downloads", "fresh-task")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(old, "a.mp3"), []byte("data"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	out, err := run(t, "sweep", "--dry-run", "-c", cfgPath)
	require.NoError(t, err)

	var rep reaper.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.True(t, rep.DryRun)
	assert.Equal(t, []string{"old-task"}, rep.Aged)
	assert.DirExists(t, old)

	out, err = run(t, "sweep", "-c", cfgPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.False(t, rep.DryRun)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
}

func TestCacheList(t *testing.T) {
	cfgPath, root := writeConfig(t)

	out, err := run(t, "cache", "ls", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No cache entries.")

	db, err := store.NewSQLiteDB(filepath.Join(root, "stemdeck.db"))
	require.NoError(t, err)
	require.NoError(t, db.RecordEntry(context.Background(), &store.CacheEntry{
		Hash:      "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		Kind:      "separation",
		Path:      filepath.Join(root, "stems", "0123"),
		SizeBytes: 3 << 20,
		Artifacts: 4,
	}))
	require.NoError(t, db.Close())

	out, err = run(t, "cache", "ls", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "separation")
	assert.Contains(t, out, "0123456789ab")
	assert.Contains(t, out, "3.0 MiB")

	out, err = run(t, "cache", "ls", "--json", "--kind", "analysis", "-c", cfgPath)
	require.NoError(t, err)
	var entries []store.CacheEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Empty(t, entries)

	_, err = run(t, "cache", "ls", "--kind", "video", "-c", cfgPath)
	assert.Error(t, err)

	out, err = run(t, "cache", "stats", "--json", "-c", cfgPath)
	require.NoError(t, err)
	var stats []store.CacheStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Entries)
}

func TestCacheShow(t *testing.T) {
	cfgPath, root := writeConfig(t)
	hash := "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"

	db, err := store.NewSQLiteDB(filepath.Join(root, "stemdeck.db"))
	require.NoError(t, err)
	require.NoError(t, db.RecordEntry(context.Background(), &store.CacheEntry{
		Hash: hash, Kind: "analysis", Path: filepath.Join(root, "bpm", hash), SizeBytes: 512, Artifacts: 1,
	}))
	require.NoError(t, db.TouchEntry(context.Background(), hash, "analysis"))
	require.NoError(t, db.Close())

	out, err := run(t, "cache", "show", hash, "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "analysis")
	assert.Contains(t, out, filepath.Join(root, "bpm", hash))
	assert.Contains(t, out, "512 B")

	out, err = run(t, "cache", "show", "--json", hash, "-c", cfgPath)
	require.NoError(t, err)
	var entries []store.CacheEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Hits)

	_, err = run(t, "cache", "show", "--kind", "separation", hash, "-c", cfgPath)
	assert.Error(t, err)

	_, err = run(t, "cache", "show", "--kind", "video", hash, "-c", cfgPath)
	assert.Error(t, err)
}

func TestConfigErrorsAreReported(t *testing.T) {
	_, err := run(t, "sweep", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 GiB", humanBytes(2<<30))
}
