package sqlite

import (
	"database/sql"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
)

// SaveTask inserts or updates the journal row for a task
func (s *Store) SaveTask(task *domain.DownloadTask) error {
	query := `
		INSERT INTO download_tasks (
			id, source_ref, destination_path, state, bytes_total,
			bytes_transferred, resume_offset, attempt, max_attempts,
			checksum, last_error, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			bytes_total = excluded.bytes_total,
			bytes_transferred = excluded.bytes_transferred,
			resume_offset = excluded.resume_offset,
			attempt = excluded.attempt,
			checksum = excluded.checksum,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	var checksum, lastError sql.NullString
	var completedAt sql.NullTime

	if task.Checksum != "" {
		checksum = sql.NullString{String: task.Checksum, Valid: true}
	}
	if task.LastError != "" {
		lastError = sql.NullString{String: task.LastError, Valid: true}
	}
	if task.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *task.CompletedAt, Valid: true}
	}

	_, err := s.db.Exec(query,
		task.ID, task.SourceRef, task.DestinationPath, string(task.State),
		task.BytesTotal, task.BytesTransferred, task.ResumeOffset,
		task.Attempt, task.MaxAttempts, checksum, lastError,
		task.CreatedAt, task.UpdatedAt, completedAt)

	return err
}

// DeleteTask removes the journal row for a task
func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec("DELETE FROM download_tasks WHERE id = ?", id)
	return err
}

// ListResumable returns non-terminal tasks recorded by a previous run,
// oldest first. Queued and downloading rows are included so nothing is lost
// when the process dies without a graceful shutdown.
func (s *Store) ListResumable() ([]*domain.DownloadTask, error) {
	query := `
		SELECT id, source_ref, destination_path, state, bytes_total,
			   bytes_transferred, resume_offset, attempt, max_attempts,
			   checksum, last_error, created_at, updated_at, completed_at
		FROM download_tasks
		WHERE state IN (?, ?, ?)
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query,
		string(domain.TaskStateQueued), string(domain.TaskStateDownloading),
		string(domain.TaskStatePaused))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// PurgeTerminal deletes terminal rows older than the cutoff
func (s *Store) PurgeTerminal(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.Exec(
		"DELETE FROM download_tasks WHERE state IN (?, ?, ?) AND updated_at < ?",
		string(domain.TaskStateCompleted), string(domain.TaskStateFailed),
		string(domain.TaskStateCancelled), cutoff)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// scanTasks scans task rows
func scanTasks(rows *sql.Rows) ([]*domain.DownloadTask, error) {
	var tasks []*domain.DownloadTask

	for rows.Next() {
		task := &domain.DownloadTask{}
		var state string
		var checksum, lastError sql.NullString
		var completedAt sql.NullTime

		err := rows.Scan(
			&task.ID, &task.SourceRef, &task.DestinationPath, &state,
			&task.BytesTotal, &task.BytesTransferred, &task.ResumeOffset,
			&task.Attempt, &task.MaxAttempts, &checksum, &lastError,
			&task.CreatedAt, &task.UpdatedAt, &completedAt,
		)
		if err != nil {
			return nil, err
		}

		task.State = domain.TaskState(state)
		if checksum.Valid {
			task.Checksum = checksum.String
		}
		if lastError.Valid {
			task.LastError = lastError.String
		}
		if completedAt.Valid {
			task.CompletedAt = &completedAt.Time
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}
