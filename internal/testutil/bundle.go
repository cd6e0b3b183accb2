package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerpack/internal/contract"
)

// ResealBundle rewrites the manifest and sums of the bundle at dir so every
// hash matches the files as they are now. Tests use it to check content
// rules that hold independently of hash consistency.
func ResealBundle(t *testing.T, dir string) {
	t.Helper()

	m, _, err := contract.ReadManifest(dir)
	require.NoError(t, err)
	entries, err := contract.ContentEntries(dir)
	require.NoError(t, err)
	m.Contents = entries
	m.BundleID, err = contract.BundleID(m.ContractVersion, m.RunID, entries)
	require.NoError(t, err)

	data, err := m.Bytes()
	require.NoError(t, err)
	require.NoError(t, contract.WriteFile(dir, contract.PathManifest, data))
	_, err = contract.WriteSums(dir)
	require.NoError(t, err)
}

// ReadBundleFile returns the bytes of a bundle-relative file.
func ReadBundleFile(t *testing.T, dir, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return data
}
