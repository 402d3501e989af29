package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
	"github.com/assessflow/amt-api/internal/repository"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
	"github.com/assessflow/amt-api/pkg/export"
	"github.com/assessflow/amt-api/pkg/jobs"
	"github.com/assessflow/amt-api/pkg/storage"
)

// ExportService produces transition-history exports as background jobs. The
// handler enqueues, a worker renders CSV or PDF to local storage, and the
// result is fetched through a signed URL.
type ExportService struct {
	exports     *repository.ExportRepository
	assessments workflowAssessmentStore
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	store       *storage.LocalStorage
	signer      *storage.SignedURLSigner
	queue       *jobs.Queue
	logger      *zap.Logger
}

// NewExportService constructs the service. Call Start before enqueuing.
func NewExportService(exports *repository.ExportRepository, assessments workflowAssessmentStore, store *storage.LocalStorage, signer *storage.SignedURLSigner, queueCfg jobs.QueueConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExportService{
		exports:     exports,
		assessments: assessments,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		store:       store,
		signer:      signer,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("exports", s.process, queueCfg)
	return s
}

// Start launches the worker pool.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// Enqueue records a new export job and hands it to the workers.
func (s *ExportService) Enqueue(ctx context.Context, assessmentID string, format models.ExportFormat, actor *models.JWTClaims) (*models.ExportJob, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	switch format {
	case models.ExportFormatCSV, models.ExportFormatPDF:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if _, err := s.assessments.GetByID(ctx, assessmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.FromError(err)
	}

	job := &models.ExportJob{
		AssessmentID: assessmentID,
		Params:       models.ExportJobParams{Format: format},
		CreatedBy:    actor.UserID,
	}
	if err := s.exports.Create(ctx, job); err != nil {
		return nil, appErrors.FromError(err)
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "export"}); err != nil {
		s.logger.Error("failed to enqueue export", zap.String("job_id", job.ID), zap.Error(err))
		_ = s.exports.MarkFailed(ctx, job.ID, "could not enqueue export")
		return nil, appErrors.FromError(err)
	}
	return job, nil
}

// Job returns the stored export job.
func (s *ExportService) Job(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.exports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.FromError(err)
	}
	return job, nil
}

// Resolve validates a signed download token and opens the underlying file.
func (s *ExportService) Resolve(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	return relPath, nil
}

// Open returns the stored export file for streaming.
func (s *ExportService) Open(relPath string) (string, error) {
	file, err := s.store.Open(relPath)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	name := file.Name()
	_ = file.Close()
	return name, nil
}

// process is the queue handler rendering one export.
func (s *ExportService) process(ctx context.Context, job jobs.Job) error {
	if err := s.exports.MarkProcessing(ctx, job.ID); err != nil {
		// Already picked up or gone; a retry would double-render.
		s.logger.Warn("export job not in queued state", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	record, err := s.exports.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}

	data, filename, err := s.render(ctx, record)
	if err != nil {
		if markErr := s.exports.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return err
	}

	relPath, err := s.store.Save(filename, data)
	if err != nil {
		if markErr := s.exports.MarkFailed(ctx, job.ID, "could not store export"); markErr != nil {
			s.logger.Error("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return err
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		if markErr := s.exports.MarkFailed(ctx, job.ID, "could not sign download url"); markErr != nil {
			s.logger.Error("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return err
	}

	url := "/api/v1/exports/download/" + token
	if err := s.exports.MarkFinished(ctx, job.ID, url); err != nil {
		return err
	}
	s.logger.Info("export finished", zap.String("job_id", job.ID), zap.String("file", relPath))
	return nil
}

func (s *ExportService) render(ctx context.Context, record *models.ExportJob) ([]byte, string, error) {
	assessment, err := s.assessments.GetByID(ctx, record.AssessmentID)
	if err != nil {
		return nil, "", fmt.Errorf("load assessment")
	}
	transitions, err := s.assessments.ListTransitions(ctx, record.AssessmentID)
	if err != nil {
		return nil, "", fmt.Errorf("load transition history")
	}

	dataset := export.Dataset{
		Headers: []string{"From", "To", "Actor", "Note", "Override", "At"},
		Rows:    make([][]string, 0, len(transitions)),
	}
	for _, t := range transitions {
		actor := t.ActorName
		if actor == "" {
			actor = "system"
		}
		note := ""
		if t.Note != nil {
			note = *t.Note
		}
		dataset.Rows = append(dataset.Rows, []string{
			string(t.FromState),
			string(t.ToState),
			actor,
			note,
			fmt.Sprintf("%t", t.Override),
			t.At.UTC().Format(time.RFC3339),
		})
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	switch record.Params.Format {
	case models.ExportFormatPDF:
		title := fmt.Sprintf("Transition history: %s", assessment.Title)
		data, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, "", fmt.Errorf("render pdf")
		}
		return data, fmt.Sprintf("history-%s-%s.pdf", assessment.ID, stamp), nil
	default:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", fmt.Errorf("render csv")
		}
		return data, fmt.Sprintf("history-%s-%s.csv", assessment.ID, stamp), nil
	}
}
