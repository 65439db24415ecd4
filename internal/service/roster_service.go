package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
	"github.com/opencourse/enrollment-api/pkg/export"
)

type rosterEnrollmentReader interface {
	ListActiveByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// RosterExport is a rendered roster document.
type RosterExport struct {
	FileName    string
	ContentType string
	Content     []byte
}

// RosterService renders the active roster of a class as CSV or PDF.
type RosterService struct {
	enrollments rosterEnrollmentReader
	classes     classReader
	csv         csvRenderer
	pdf         pdfRenderer
	maxRows     int
	logger      *zap.Logger
}

// NewRosterService constructs RosterService.
func NewRosterService(enrollments rosterEnrollmentReader, classes classReader, csv csvRenderer, pdf pdfRenderer, maxRows int, logger *zap.Logger) *RosterService {
	if maxRows <= 0 {
		maxRows = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{enrollments: enrollments, classes: classes, csv: csv, pdf: pdf, maxRows: maxRows, logger: logger}
}

// Export renders the class roster in the requested format ("csv" or "pdf").
func (s *RosterService) Export(ctx context.Context, classID, format string) (*RosterExport, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	roster, err := s.enrollments.ListActiveByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if len(roster) > s.maxRows {
		roster = roster[:s.maxRows]
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Enrolled At", "Status"},
		Rows:    make([]map[string]string, 0, len(roster)),
	}
	for _, entry := range roster {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student":     entry.StudentName,
			"Enrolled At": entry.CreatedAt.Format("2006-01-02"),
			"Status":      string(entry.Status),
		})
	}

	slug := strings.ReplaceAll(strings.ToLower(class.Name), " ", "-")
	switch strings.ToLower(format) {
	case "", "csv":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv roster")
		}
		return &RosterExport{
			FileName:    fmt.Sprintf("roster-%s.csv", slug),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case "pdf":
		title := fmt.Sprintf("%s roster", class.Name)
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf roster")
		}
		return &RosterExport{
			FileName:    fmt.Sprintf("roster-%s.pdf", slug),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
