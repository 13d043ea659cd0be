// Package cache memoizes parsed series on disk so unchanged source files
// skip the ingest pass on re-analysis.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tremor/internal/domain"
)

// snapshot is the on-disk envelope. The fingerprint inside must match the
// source file's current fingerprint or the entry is stale.
type snapshot struct {
	Fingerprint string         `msgpack:"fingerprint"`
	SavedAt     int64          `msgpack:"saved_at"`
	Series      *domain.Series `msgpack:"series"`
}

// Snapshots is a directory of msgpack-encoded series keyed by source path.
type Snapshots struct {
	dir string
	log zerolog.Logger
}

// New builds a snapshot cache rooted at dir.
func New(dir string, log zerolog.Logger) *Snapshots {
	return &Snapshots{
		dir: dir,
		log: log.With().Str("component", "cache").Logger(),
	}
}

// Load returns the cached series for path when the file has not changed
// since the snapshot was taken. Any read or decode problem is a miss.
func (c *Snapshots) Load(path string) (*domain.Series, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	raw, err := os.ReadFile(c.entryPath(path))
	if err != nil {
		return nil, false
	}
	var snap snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		c.log.Debug().Err(err).Str("path", path).Msg("snapshot unreadable, ignoring")
		return nil, false
	}
	if snap.Series == nil || snap.Fingerprint != fingerprint(path, info) {
		return nil, false
	}
	// Decoded timestamps come back in the local zone; the rest of the
	// system works in UTC.
	for i := range snap.Series.Bars {
		snap.Series.Bars[i].Timestamp = snap.Series.Bars[i].Timestamp.UTC()
	}
	c.log.Debug().Str("path", path).Int("bars", snap.Series.Len()).Msg("snapshot hit")
	return snap.Series, true
}

// Store snapshots a freshly parsed series. The write is atomic so a crash
// can never leave a truncated entry behind.
func (c *Snapshots) Store(path string, series *domain.Series) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	raw, err := msgpack.Marshal(snapshot{
		Fingerprint: fingerprint(path, info),
		SavedAt:     time.Now().UnixNano(),
		Series:      series,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	entry := c.entryPath(path)
	tmp := entry + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, entry); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	c.log.Debug().Str("path", path).Int("bytes", len(raw)).Msg("snapshot written")
	return nil
}

// Purge removes entries older than maxAge and returns how many went.
func (c *Snapshots) Purge(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		c.log.Info().Int("removed", removed).Msg("snapshots purged")
	}
	return removed, nil
}

func (c *Snapshots) entryPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+".snap")
}

// fingerprint captures identity, size and mtime of the source file. Content
// hashing would be safer but reading gigabyte logs twice defeats the point.
func fingerprint(path string, info os.FileInfo) string {
	return fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
}
