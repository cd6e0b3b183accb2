package contract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
)

// SumLine is one line of hashes/sha256sums.txt.
type SumLine struct {
	SHA256 string
	Path   string
}

// FormatSums renders lines as "<hex>  <path>\n", sorted by path.
func FormatSums(lines []SumLine) []byte {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b SumLine) int { return strings.Compare(a.Path, b.Path) })

	var buf bytes.Buffer
	for _, l := range sorted {
		buf.WriteString(l.SHA256)
		buf.WriteString("  ")
		buf.WriteString(l.Path)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

var sumLinePattern = regexp.MustCompile(`^([0-9a-f]{64})  (\S.*)$`)

// ParseSums parses a sums file strictly: LF only, every line well formed,
// paths unique and sorted.
func ParseSums(data []byte) ([]SumLine, error) {
	if err := canonical.CheckLF(data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var out []SumLine
	for i, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		m := sumLinePattern.FindStringSubmatch(line)
		if m == nil {
			return nil, faults.Schema(faults.CodeSumsMalformed, "malformed sums line %d: %q", i+1, line).WithPath(PathSums)
		}
		if !SafeRelPath(m[2]) {
			return nil, faults.Schema(faults.CodeSumsMalformed, "unsafe path on sums line %d: %q", i+1, m[2]).WithPath(PathSums)
		}
		if n := len(out); n > 0 && out[n-1].Path >= m[2] {
			return nil, faults.Schema(faults.CodeSumsNotSorted,
				"sums not strictly sorted at line %d: %q after %q", i+1, m[2], out[n-1].Path).WithPath(PathSums)
		}
		out = append(out, SumLine{SHA256: m[1], Path: m[2]})
	}
	return out, nil
}

// ComputeSums hashes every file under dir except the sums file itself.
func ComputeSums(dir string) ([]SumLine, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list bundle files: %w", err)
	}

	lines := make([]SumLine, 0, len(files))
	for _, rel := range files {
		if rel == PathSums {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		lines = append(lines, SumLine{SHA256: canonical.SHA256Hex(data), Path: rel})
	}
	return lines, nil
}

// WriteSums recomputes and writes hashes/sha256sums.txt for the bundle at
// dir.
func WriteSums(dir string) ([]byte, error) {
	lines, err := ComputeSums(dir)
	if err != nil {
		return nil, err
	}
	data := FormatSums(lines)
	if err := WriteFile(dir, PathSums, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile writes data to the bundle-relative path rel, creating parent
// directories.
func WriteFile(dir, rel string, data []byte) error {
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}
