package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyeonbin/stayscan/internal/models"
)

// SQLiteCrawlLogRepository implements CrawlLogRepository for SQLite.
type SQLiteCrawlLogRepository struct {
	db DBTX
}

// NewSQLiteCrawlLogRepository creates a new SQLite crawl log repository.
func NewSQLiteCrawlLogRepository(db DBTX) *SQLiteCrawlLogRepository {
	return &SQLiteCrawlLogRepository{db: db}
}

const crawlLogColumns = `id, job_type, started_at, finished_at, status, total_requests,
		successful_requests, failed_requests, blocked_requests, error_message`

func (r *SQLiteCrawlLogRepository) Create(ctx context.Context, log *models.CrawlLog) error {
	query := `
		INSERT INTO crawl_logs (` + crawlLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.JobType,
		log.StartedAt.Format(time.RFC3339),
		nullTime(log.FinishedAt),
		log.Status,
		log.TotalRequests,
		log.SuccessfulRequests,
		log.FailedRequests,
		log.BlockedRequests,
		nullString(log.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to create crawl log: %w", err)
	}
	return nil
}

func (r *SQLiteCrawlLogRepository) Finish(ctx context.Context, log *models.CrawlLog) error {
	query := `
		UPDATE crawl_logs SET finished_at = ?, status = ?, total_requests = ?,
			successful_requests = ?, failed_requests = ?, blocked_requests = ?,
			error_message = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		nullTime(log.FinishedAt),
		log.Status,
		log.TotalRequests,
		log.SuccessfulRequests,
		log.FailedRequests,
		log.BlockedRequests,
		nullString(log.ErrorMessage),
		log.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish crawl log: %w", err)
	}
	return nil
}

func (r *SQLiteCrawlLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.CrawlLog, error) {
	query := `
		SELECT ` + crawlLogColumns + `
		FROM crawl_logs ORDER BY started_at DESC, id DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.CrawlLog
	for rows.Next() {
		log, err := r.scanCrawlLogFromRows(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (r *SQLiteCrawlLogRepository) LastByType(ctx context.Context, jobType models.JobType) (*models.CrawlLog, error) {
	query := `
		SELECT ` + crawlLogColumns + `
		FROM crawl_logs WHERE job_type = ? ORDER BY started_at DESC, id DESC LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, jobType)

	var log models.CrawlLog
	var startedAt string
	var finishedAt, errorMessage sql.NullString
	err := row.Scan(
		&log.ID, &log.JobType, &startedAt, &finishedAt, &log.Status, &log.TotalRequests,
		&log.SuccessfulRequests, &log.FailedRequests, &log.BlockedRequests, &errorMessage,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan crawl log: %w", err)
	}
	fillCrawlLog(&log, startedAt, finishedAt, errorMessage)
	return &log, nil
}

func (r *SQLiteCrawlLogRepository) MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	now := time.Now().UTC()
	query := `
		UPDATE crawl_logs SET status = ?, error_message = ?, finished_at = ?
		WHERE status = ? AND started_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusFailed,
		"job terminated: process restart",
		now.Format(time.RFC3339),
		models.JobStatusRunning,
		now.Add(-maxAge).Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale crawl logs: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func (r *SQLiteCrawlLogRepository) scanCrawlLogFromRows(rows *sql.Rows) (*models.CrawlLog, error) {
	var log models.CrawlLog
	var startedAt string
	var finishedAt, errorMessage sql.NullString
	err := rows.Scan(
		&log.ID, &log.JobType, &startedAt, &finishedAt, &log.Status, &log.TotalRequests,
		&log.SuccessfulRequests, &log.FailedRequests, &log.BlockedRequests, &errorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan crawl log: %w", err)
	}
	fillCrawlLog(&log, startedAt, finishedAt, errorMessage)
	return &log, nil
}

func fillCrawlLog(log *models.CrawlLog, startedAt string, finishedAt, errorMessage sql.NullString) {
	log.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		log.FinishedAt = &t
	}
	log.ErrorMessage = errorMessage.String
}
