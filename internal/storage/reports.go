package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"driftcast/internal/models"
)

// CreateReport records a viewer report. Reports are append-only from this
// service's point of view; review transitions happen elsewhere.
func (s *Storage) CreateReport(ctx context.Context, reporterID string, params CreateReportParams) (models.Report, error) {
	reporterID = strings.TrimSpace(reporterID)
	if reporterID == "" {
		return models.Report{}, fmt.Errorf("reporter id is required")
	}
	if strings.TrimSpace(params.ReportedContentID) == "" {
		return models.Report{}, fmt.Errorf("reported content id is required")
	}
	if strings.TrimSpace(params.ReportedUserID) == "" {
		return models.Report{}, fmt.Errorf("reported user id is required")
	}
	if !models.ValidReportContentType(params.ContentType) {
		return models.Report{}, fmt.Errorf("invalid content type %q", params.ContentType)
	}
	if strings.TrimSpace(params.Reason) == "" {
		return models.Report{}, fmt.Errorf("reason is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := models.Report{
		ID:                newID(),
		ReportedContentID: strings.TrimSpace(params.ReportedContentID),
		ReportedUserID:    strings.TrimSpace(params.ReportedUserID),
		ContentType:       strings.TrimSpace(params.ContentType),
		Reason:            strings.TrimSpace(params.Reason),
		ReporterID:        reporterID,
		Status:            models.ReportStatusNew,
		CreatedAt:         s.timestamp(),
	}
	s.reports[report.ID] = report
	return report, nil
}

// ListReports returns all recorded reports, newest first. Used by tests and
// the operator surface.
func (s *Storage) ListReports(ctx context.Context) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]models.Report, 0, len(s.reports))
	for _, report := range s.reports {
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].CreatedAt.After(reports[j].CreatedAt)
		}
		return reports[i].ID < reports[j].ID
	})
	return reports, nil
}
