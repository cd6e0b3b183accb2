package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/testutil"
)

// createTestStore opens a fresh database with sequential batch ids.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	n := 0
	s.newBatchID = func() string {
		n++
		return fmt.Sprintf("batch-%02d", n)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleRun returns three events of runID: a submit and two fills.
func sampleRun(runID string) []canonical.Object {
	f := testutil.NewEventFactory(runID)
	return []canonical.Object{
		f.Lifecycle("SUBMIT", "AAPL"),
		f.Fill("AAPL", "BUY", "2", "100", "1.00"),
		f.Fill("AAPL", "SELL", "1", "105", ""),
	}
}
