package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hyeonbin/stayscan/internal/models"
	"github.com/hyeonbin/stayscan/internal/repository"
)

// CrawlLogsHandler handles crawl log endpoints.
type CrawlLogsHandler struct {
	logs repository.CrawlLogRepository
}

// NewCrawlLogsHandler creates a crawl logs handler.
func NewCrawlLogsHandler(logs repository.CrawlLogRepository) *CrawlLogsHandler {
	return &CrawlLogsHandler{logs: logs}
}

// CrawlLogOutput represents one job run in API responses.
type CrawlLogOutput struct {
	ID                 string  `json:"id" doc:"Run ID"`
	JobType            string  `json:"job_type" doc:"search, calendar, detail or aggregation"`
	StartedAt          string  `json:"started_at"`
	FinishedAt         *string `json:"finished_at,omitempty"`
	Status             string  `json:"status" doc:"running, success, partial or failed"`
	TotalRequests      int     `json:"total_requests" doc:"Units attempted (stations or listings)"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	BlockedRequests    int     `json:"blocked_requests"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

// ListCrawlLogsInput represents the crawl log listing request.
type ListCrawlLogsInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"200" doc:"Number of runs to return, newest first"`
}

// ListCrawlLogsOutput represents the crawl log listing response.
type ListCrawlLogsOutput struct {
	Body struct {
		Logs []CrawlLogOutput `json:"logs"`
	}
}

// ListCrawlLogs returns the most recent job runs, newest first.
func (h *CrawlLogsHandler) ListCrawlLogs(ctx context.Context, input *ListCrawlLogsInput) (*ListCrawlLogsOutput, error) {
	entries, err := h.logs.ListRecent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list crawl logs: " + err.Error())
	}

	output := &ListCrawlLogsOutput{}
	for _, entry := range entries {
		output.Body.Logs = append(output.Body.Logs, crawlLogToOutput(entry))
	}
	return output, nil
}

func crawlLogToOutput(entry *models.CrawlLog) CrawlLogOutput {
	out := CrawlLogOutput{
		ID:                 entry.ID,
		JobType:            string(entry.JobType),
		StartedAt:          entry.StartedAt.UTC().Format(time.RFC3339),
		Status:             string(entry.Status),
		TotalRequests:      entry.TotalRequests,
		SuccessfulRequests: entry.SuccessfulRequests,
		FailedRequests:     entry.FailedRequests,
		BlockedRequests:    entry.BlockedRequests,
		ErrorMessage:       entry.ErrorMessage,
	}
	if entry.FinishedAt != nil {
		finished := entry.FinishedAt.UTC().Format(time.RFC3339)
		out.FinishedAt = &finished
	}
	return out
}
