package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const taskColumns = "id, requester_id, source_url, track_id, storefront, quality, actual_codec, title, artist, stage, status, attempts, created_at, started_at, finished_at, reason_code, error_detail, artifact_id, delivery_mode, flags_json"

const artifactColumns = "id, task_id, path, size, codec, created_at, expires_at, deleted_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task         Task
		trackID      sql.NullString
		storefront   sql.NullString
		actualCodec  sql.NullString
		title        sql.NullString
		artist       sql.NullString
		stage        sql.NullString
		statusStr    string
		createdRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		reasonCode   sql.NullString
		errorDetail  sql.NullString
		artifactID   sql.NullString
		deliveryMode sql.NullString
		flagsJSON    sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&task.RequesterID,
		&task.SourceURL,
		&trackID,
		&storefront,
		&task.Quality,
		&actualCodec,
		&title,
		&artist,
		&stage,
		&statusStr,
		&task.Attempts,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
		&reasonCode,
		&errorDetail,
		&artifactID,
		&deliveryMode,
		&flagsJSON,
	); err != nil {
		return nil, err
	}

	task.TrackID = trackID.String
	task.Storefront = storefront.String
	task.ActualCodec = actualCodec.String
	task.Title = title.String
	task.Artist = artist.String
	task.Stage = stage.String
	task.Status = Status(statusStr)
	task.ReasonCode = reasonCode.String
	task.ErrorDetail = errorDetail.String
	task.ArtifactID = artifactID.String
	task.DeliveryMode = DeliveryMode(deliveryMode.String)
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	task.StartedAt = parseNullableTime(startedRaw)
	task.FinishedAt = parseNullableTime(finishedRaw)
	if flagsJSON.Valid && flagsJSON.String != "" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &task.Flags); err != nil {
			return nil, err
		}
	}
	return &task, nil
}

func scanArtifact(scanner rowScanner) (*Artifact, error) {
	var (
		artifact   Artifact
		codec      sql.NullString
		createdRaw string
		expiresRaw string
		deletedRaw sql.NullString
	)
	if err := scanner.Scan(
		&artifact.ID,
		&artifact.TaskID,
		&artifact.Path,
		&artifact.Size,
		&codec,
		&createdRaw,
		&expiresRaw,
		&deletedRaw,
	); err != nil {
		return nil, err
	}
	artifact.Codec = codec.String
	if created, err := parseTimeString(createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	if expires, err := parseTimeString(expiresRaw); err == nil {
		artifact.ExpiresAt = expires
	}
	artifact.DeletedAt = parseNullableTime(deletedRaw)
	return &artifact, nil
}

func encodeFlags(flags Flags) (any, error) {
	if flags == (Flags{}) {
		return nil, nil
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

// storedTimeLayout is fixed width so text comparisons in SQL order correctly.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(storedTimeLayout)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
