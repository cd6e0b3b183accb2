package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ledgerpack/internal/canonical"
)

// ErrArtifactNotFound is returned when a named artifact does not exist.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactInfo describes one stored artifact.
type ArtifactInfo struct {
	Name   string
	SHA256 string
	Bytes  int64
}

// PutArtifact stores data under (namespace, name), replacing any previous
// content.
func (s *Store) PutArtifact(ctx context.Context, namespace, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (namespace, name, sha256, bytes, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, name) DO UPDATE SET
			sha256 = excluded.sha256,
			bytes = excluded.bytes,
			content = excluded.content
	`, namespace, name, canonical.SHA256Hex(data), len(data), data)
	if err != nil {
		return fmt.Errorf("put artifact %s/%s: %w", namespace, name, err)
	}
	return nil
}

// Artifact returns the content of one artifact.
func (s *Store) Artifact(ctx context.Context, namespace, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM artifacts WHERE namespace = ? AND name = ?`, namespace, name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, ErrArtifactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s/%s: %w", namespace, name, err)
	}
	return data, nil
}

// Artifacts lists a namespace ordered by name.
func (s *Store) Artifacts(ctx context.Context, namespace string) ([]ArtifactInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, sha256, bytes
		FROM artifacts
		WHERE namespace = ?
		ORDER BY name COLLATE BINARY ASC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := []ArtifactInfo{}
	for rows.Next() {
		var a ArtifactInfo
		if err := rows.Scan(&a.Name, &a.SHA256, &a.Bytes); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

// ArtifactSink writes bridge artifacts into the artifacts table under one
// namespace, typically the run id.
type ArtifactSink struct {
	Store     *Store
	Namespace string
}

// Put stores one artifact. It satisfies bridge.Sink.
func (a ArtifactSink) Put(ctx context.Context, name string, data []byte) error {
	return a.Store.PutArtifact(ctx, a.Namespace, name, data)
}
