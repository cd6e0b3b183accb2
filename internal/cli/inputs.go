package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/ledgerpack/internal/builder"
	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/store"
)

// StoreFlags selects the event store shared by commands that can read from
// it instead of a file.
type StoreFlags struct {
	Database string
}

// path returns the database path, falling back to the configured one.
func (f StoreFlags) path(opts *RootOptions) (string, error) {
	if f.Database != "" {
		return f.Database, nil
	}
	cfg, err := opts.Settings()
	if err != nil {
		return "", err
	}
	return cfg.StorePath, nil
}

func openStore(opts *RootOptions, f StoreFlags) (*store.Store, error) {
	path, err := f.path(opts)
	if err != nil {
		return nil, err
	}
	return store.Open(path, store.WithMetrics(opts.Metrics))
}

// eventSource returns a source for args[0] when given, otherwise for runID
// in the store. The returned close func releases the store.
func eventSource(opts *RootOptions, f StoreFlags, args []string, runID string) (builder.Source, func(), error) {
	if len(args) > 0 {
		return builder.FileSource{Path: args[0]}, func() {}, nil
	}
	st, err := openStore(opts, f)
	if err != nil {
		return nil, nil, err
	}
	return store.RunSource{Store: st, RunID: runID}, func() { st.Close() }, nil
}

// loadEvents reads raw events the way eventSource selects them.
func loadEvents(ctx context.Context, opts *RootOptions, f StoreFlags, args []string, runID string) ([]canonical.Object, error) {
	src, closeFn, err := eventSource(opts, f, args, runID)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return src.Load(ctx)
}

// readObjectFile parses the JSON object at path. An empty path yields nil.
func readObjectFile(path string) (canonical.Object, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return canonical.ParseObject(data)
}
