package contract

import (
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// Bundle-relative paths. Always slash separated.
const (
	PathManifest         = "manifest.json"
	PathEvents           = "events/execution_events.jsonl"
	PathSums             = "hashes/sha256sums.txt"
	PathConfigSnapshot   = "inputs/config_snapshot.json"
	PathGit              = "meta/git.json"
	PathEnv              = "meta/env.json"
	PathExpectedFills    = "outputs/expected_fills.jsonl"
	PathExpectedPosition = "outputs/expected_positions.json"
	PathMarketDataRefs   = "events/market_data_refs.json"
	PathFIFOSnapshot     = "ledger/ledger_fifo_snapshot.json"
	PathFIFOEntries      = "ledger/ledger_fifo_entries.jsonl"
	PathCompareReport    = "meta/compare_report.json"
	PathResolutionReport = "meta/resolution_report.json"
)

// Contract versions.
const (
	V1 = 1
	V2 = 2
)

// RequiredPaths must exist in every bundle.
var RequiredPaths = []string{PathManifest, PathEvents, PathSums}

// ManifestExcluded are never listed in manifest contents: the manifest
// and sums describe the contents, and the reports are written after the
// bundle id is fixed.
var ManifestExcluded = []string{PathManifest, PathSums, PathCompareReport, PathResolutionReport}

// InManifest reports whether rel belongs in manifest contents.
func InManifest(rel string) bool {
	return !slices.Contains(ManifestExcluded, rel)
}

// Media types.
const (
	MediaJSON   = "application/json"
	MediaNDJSON = "application/x-ndjson"
	MediaText   = "text/plain"
	MediaBinary = "application/octet-stream"
)

// MediaType returns the media type for a bundle path by extension.
func MediaType(rel string) string {
	switch path.Ext(rel) {
	case ".json":
		return MediaJSON
	case ".jsonl":
		return MediaNDJSON
	case ".txt":
		return MediaText
	default:
		return MediaBinary
	}
}

// IsJSON reports whether rel holds JSON or JSONL content.
func IsJSON(rel string) bool {
	mt := MediaType(rel)
	return mt == MediaJSON || mt == MediaNDJSON
}

// ListFiles returns every regular file under dir as sorted bundle-relative
// paths.
func ListFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// SafeRelPath reports whether rel stays inside the bundle root.
func SafeRelPath(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return false
	}
	clean := path.Clean(rel)
	return clean == rel && clean != "." && !strings.HasPrefix(clean, "../") && clean != ".."
}
