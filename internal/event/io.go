package event

import (
	"fmt"
	"io"
	"os"

	"github.com/roach88/ledgerpack/internal/canonical"
)

// DecodeJSONL reads raw events from an upstream JSONL log. Blank lines are
// skipped and a missing final newline is tolerated; floats are not.
func DecodeJSONL(r io.Reader) ([]canonical.Object, error) {
	return canonical.DecodeLines(r)
}

// ReadJSONL reads raw events from the JSONL file at path.
func ReadJSONL(path string) ([]canonical.Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	objs, err := DecodeJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("read event log %s: %w", path, err)
	}
	return objs, nil
}

// LoadJSONL reads, normalizes, dedupes and sorts the events at path.
func LoadJSONL(path string) ([]Event, error) {
	raws, err := ReadJSONL(path)
	if err != nil {
		return nil, err
	}
	return Prepare(raws)
}
