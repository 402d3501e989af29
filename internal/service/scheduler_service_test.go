package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessflow/amt-api/internal/models"
)

type dueExamStub struct {
	exams []models.Assessment
}

func (s *dueExamStub) ListExamsDueForProgress(ctx context.Context, cutoff time.Time) ([]models.Assessment, error) {
	var due []models.Assessment
	for _, exam := range s.exams {
		if exam.ExamDate != nil && !exam.ExamDate.After(cutoff) {
			due = append(due, exam)
		}
	}
	return due, nil
}

type progressRecorder struct {
	progressed []string
}

func (p *progressRecorder) SystemProgress(ctx context.Context, assessment *models.Assessment, target models.AssessmentState, note string) error {
	p.progressed = append(p.progressed, assessment.ID)
	return nil
}

func TestLastWorkingDay(t *testing.T) {
	// 2026-05-16 is a Saturday, 2026-05-17 a Sunday.
	saturday := time.Date(2026, 5, 16, 9, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 5, 17, 9, 0, 0, 0, time.UTC)
	wednesday := time.Date(2026, 5, 13, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Friday, lastWorkingDay(saturday).Weekday())
	assert.Equal(t, time.Friday, lastWorkingDay(sunday).Weekday())
	assert.Equal(t, wednesday, lastWorkingDay(wednesday))
}

func TestSchedulerProgressesPastExams(t *testing.T) {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	nextWeek := time.Now().UTC().AddDate(0, 0, 7)

	store := &dueExamStub{exams: []models.Assessment{
		{ID: "past", Type: models.AssessmentTypeExam, CurrentState: models.StateExamApproved, ExamDate: &yesterday, Version: 1},
		{ID: "future", Type: models.AssessmentTypeExam, CurrentState: models.StateExamApproved, ExamDate: &nextWeek, Version: 1},
	}}
	recorder := &progressRecorder{}
	svc := NewSchedulerService(store, recorder, time.Hour, time.UTC, nil)

	svc.tick(context.Background())

	require.Len(t, recorder.progressed, 1)
	assert.Equal(t, "past", recorder.progressed[0])
}

func TestSchedulerSkipsExamWithoutDate(t *testing.T) {
	store := &dueExamStub{exams: []models.Assessment{
		{ID: "undated", Type: models.AssessmentTypeExam, CurrentState: models.StateExamApproved, Version: 1},
	}}
	recorder := &progressRecorder{}
	svc := NewSchedulerService(store, recorder, time.Hour, time.UTC, nil)

	svc.tick(context.Background())
	assert.Empty(t, recorder.progressed)
}
