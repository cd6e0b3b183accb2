package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/ledgerpack/internal/metrics"
)

// Sink receives named artifacts. Names are slash-separated relative paths.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
}

// DirSink writes artifacts under a directory. Each file is written to a
// temporary sibling and renamed, so readers never see a partial artifact.
type DirSink struct {
	Dir string
}

// Put implements Sink.
func (s DirSink) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := filepath.Join(s.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// RetrySink retries failed writes to Next. Backoff is called between
// attempts with the 1-based attempt number that just failed; nil means
// retry immediately.
type RetrySink struct {
	Next     Sink
	Attempts int // total attempts, minimum 1
	Backoff  func(attempt int)
	Metrics  *metrics.Metrics
}

// Put implements Sink.
func (s RetrySink) Put(ctx context.Context, name string, data []byte) error {
	attempts := max(s.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.Next.Put(ctx, name, data); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		slog.Warn("artifact write failed, retrying",
			"artifact", name,
			"attempt", attempt,
			"error", err,
		)
		s.Metrics.SinkRetry()
		if s.Backoff != nil {
			s.Backoff(attempt)
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", name, attempts, err)
}

// MultiSink writes every artifact to each sink in order.
type MultiSink []Sink

// Put implements Sink.
func (m MultiSink) Put(ctx context.Context, name string, data []byte) error {
	for _, s := range m {
		if err := s.Put(ctx, name, data); err != nil {
			return err
		}
	}
	return nil
}
