package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
)

type dueExamStore interface {
	ListExamsDueForProgress(ctx context.Context, cutoff time.Time) ([]models.Assessment, error)
}

type systemProgresser interface {
	SystemProgress(ctx context.Context, assessment *models.Assessment, target models.AssessmentState, note string) error
}

// SchedulerService periodically moves approved exams into marking once their
// sitting has passed. Exams dated on a weekend are anchored to the last
// working day before the sitting, matching how exam boards schedule handover.
type SchedulerService struct {
	assessments dueExamStore
	workflow    systemProgresser
	interval    time.Duration
	location    *time.Location
	logger      *zap.Logger
}

// NewSchedulerService constructs the service. Timezone defaults to UTC when
// loc is nil.
func NewSchedulerService(assessments dueExamStore, workflow systemProgresser, interval time.Duration, loc *time.Location, logger *zap.Logger) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SchedulerService{
		assessments: assessments,
		workflow:    workflow,
		interval:    interval,
		location:    loc,
		logger:      logger,
	}
}

// Run ticks until the context is cancelled. It fires once immediately so a
// restart never delays overdue exams by a full interval.
func (s *SchedulerService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("exam scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick progresses every approved exam whose effective sitting day has ended.
func (s *SchedulerService) tick(ctx context.Context) {
	now := time.Now().In(s.location)

	// Weekend-dated exams become due on the preceding Friday, so the lookup
	// window has to reach a couple of days past now.
	candidates, err := s.assessments.ListExamsDueForProgress(ctx, now.AddDate(0, 0, 2))
	if err != nil {
		s.logger.Error("exam scheduler query failed", zap.Error(err))
		return
	}

	progressed := 0
	for i := range candidates {
		exam := &candidates[i]
		if exam.ExamDate == nil {
			continue
		}
		due := endOfDay(lastWorkingDay(exam.ExamDate.In(s.location)))
		if now.Before(due) {
			continue
		}
		if err := s.workflow.SystemProgress(ctx, exam, models.StateMarkingInProgress, "exam sitting complete"); err != nil {
			s.logger.Warn("exam auto-progress failed",
				zap.String("assessment_id", exam.ID),
				zap.Error(err))
			continue
		}
		progressed++
	}
	if progressed > 0 {
		s.logger.Info("exam scheduler progressed exams", zap.Int("count", progressed))
	}
}

// lastWorkingDay shifts Saturday and Sunday dates back to the Friday before.
func lastWorkingDay(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
