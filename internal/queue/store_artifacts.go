package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertArtifact records a persisted output file.
func (s *Store) InsertArtifact(ctx context.Context, artifact *Artifact) error {
	if artifact == nil {
		return errors.New("artifact is nil")
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID,
		artifact.TaskID,
		artifact.Path,
		artifact.Size,
		nullableString(artifact.Codec),
		formatTime(artifact.CreatedAt),
		formatTime(artifact.ExpiresAt),
		nullableTime(artifact.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetArtifact fetches an artifact by identifier. It returns nil, nil when absent.
func (s *Store) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// LiveArtifactByPath returns the newest undeleted artifact stored at path.
func (s *Store) LiveArtifactByPath(ctx context.Context, path string) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+artifactColumns+` FROM artifacts
         WHERE path = ? AND deleted_at IS NULL
         ORDER BY created_at DESC LIMIT 1`,
		path,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact by path: %w", err)
	}
	return artifact, nil
}

// ListArtifacts returns artifacts matching filter ordered by creation time.
func (s *Store) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]*Artifact, error) {
	var (
		clauses []string
		args    []any
	)
	if !filter.IncludeDeleted {
		clauses = append(clauses, `deleted_at IS NULL`)
	}
	if len(filter.TaskIDs) > 0 {
		clauses = append(clauses, `task_id IN (`+makePlaceholders(len(filter.TaskIDs))+`)`)
		for _, id := range filter.TaskIDs {
			args = append(args, id)
		}
	}
	if !filter.CreatedBefore.IsZero() {
		clauses = append(clauses, `created_at < ?`)
		args = append(args, formatTime(filter.CreatedBefore))
	}
	if !filter.ExpiresBefore.IsZero() {
		clauses = append(clauses, `expires_at <= ?`)
		args = append(args, formatTime(filter.ExpiresBefore))
	}

	query := `SELECT ` + artifactColumns + ` FROM artifacts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// MarkArtifactDeleted stamps the deletion time. Already deleted artifacts are
// left untouched and reported as false.
func (s *Store) MarkArtifactDeleted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE artifacts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark artifact deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
