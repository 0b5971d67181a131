package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, type, status, lane, priority, attempts, max_attempts, entity_type, entity_id, payload, result, error_message, cancel_requested, worker_id, scheduled_at, lease_expires_at, started_at, ended_at, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		typeStr         string
		statusStr       string
		laneStr         string
		priority        int
		attempts        int
		maxAttempts     int
		entityType      string
		entityID        string
		payload         sql.NullString
		result          sql.NullString
		errorMessage    sql.NullString
		cancelRequested sql.NullInt64
		workerID        sql.NullString
		scheduledRaw    sql.NullString
		leaseRaw        sql.NullString
		startedRaw      sql.NullString
		endedRaw        sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&typeStr,
		&statusStr,
		&laneStr,
		&priority,
		&attempts,
		&maxAttempts,
		&entityType,
		&entityID,
		&payload,
		&result,
		&errorMessage,
		&cancelRequested,
		&workerID,
		&scheduledRaw,
		&leaseRaw,
		&startedRaw,
		&endedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Type:         Type(typeStr),
		Status:       Status(statusStr),
		Lane:         Lane(laneStr),
		Priority:     priority,
		Attempts:     attempts,
		MaxAttempts:  maxAttempts,
		EntityType:   entityType,
		EntityID:     entityID,
		Payload:      payload.String,
		Result:       result.String,
		ErrorMessage: errorMessage.String,
		WorkerID:     workerID.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}
	job.ScheduledAt = parseNullableTime(scheduledRaw)
	job.LeaseExpiresAt = parseNullableTime(leaseRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.EndedAt = parseNullableTime(endedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
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
	return value.UTC().Format(time.RFC3339Nano)
}

func timeString(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
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
