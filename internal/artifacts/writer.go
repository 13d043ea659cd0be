// Package artifacts exports completed runs as JSON documents on disk and,
// when a bucket is configured, mirrors them to S3.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/pipeline"
)

// Uploader ships one artifact to remote storage. *S3Uploader satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// Writer lays completed runs out under the artifact directory, one
// subdirectory per run.
type Writer struct {
	cfg config.ArtifactsConfig
	up  Uploader
	log zerolog.Logger
}

// NewWriter builds a writer. up may be nil when no remote mirror is wanted.
func NewWriter(cfg config.ArtifactsConfig, up Uploader, log zerolog.Logger) *Writer {
	return &Writer{
		cfg: cfg,
		up:  up,
		log: log.With().Str("component", "artifacts").Logger(),
	}
}

// WriteRun writes summary, scores, decisions, events and the deployable
// weight matrix for one run. Upload failures are logged, not fatal: the
// local copy is the artifact of record.
func (w *Writer) WriteRun(ctx context.Context, res *pipeline.Result) error {
	docs := []struct {
		name string
		v    any
	}{
		{"summary.json", res.Summary},
		{"scores.json", res.Scores},
		{"decisions.json", res.Decisions},
		{"events.json", res.Events},
		{"matrix.json", res.Matrix},
	}

	dir := filepath.Join(w.cfg.Dir, res.Run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	for _, doc := range docs {
		raw, err := json.MarshalIndent(doc.v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", doc.name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, doc.name), raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", doc.name, err)
		}
		if w.up == nil {
			continue
		}
		key := path.Join(res.Run.ID, doc.name)
		if err := w.up.Upload(ctx, key, raw); err != nil {
			w.log.Warn().Err(err).Str("key", key).Msg("artifact upload failed")
		}
	}

	w.log.Info().
		Str("run", res.Run.ID).
		Str("dir", dir).
		Int("documents", len(docs)).
		Msg("artifacts written")
	return nil
}
