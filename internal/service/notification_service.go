package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourse/enrollment-api/internal/models"
	"github.com/opencourse/enrollment-api/pkg/jobs"
)

const (
	jobTypeEnrolled = "enrollment.registered"
	jobTypeTransfer = "enrollment.transferred"
)

// TransferNotice is the webhook payload for enrollment events.
type TransferNotice struct {
	Event     string               `json:"event"`
	StudentID string               `json:"student_id"`
	OldClass  *models.ClassSummary `json:"old_class,omitempty"`
	NewClass  models.ClassSummary  `json:"new_class"`
	At        time.Time            `json:"at"`
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type notificationRecorder interface {
	RecordNotification(result string)
}

// NotificationService hands enrollment events to the background queue and
// delivers them to the configured webhook. Delivery is strictly best-effort:
// it runs after the enrollment transaction commits and its failure is logged,
// never surfaced to the caller.
type NotificationService struct {
	queue      jobEnqueuer
	webhookURL string
	client     *http.Client
	metrics    notificationRecorder
	logger     *zap.Logger
}

// NewNotificationService constructs the dispatcher. An empty webhook URL
// turns delivery into a logged no-op.
func NewNotificationService(queue jobEnqueuer, webhookURL string, timeout time.Duration, metrics notificationRecorder, logger *zap.Logger) *NotificationService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		queue:      queue,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		metrics:    metrics,
		logger:     logger,
	}
}

// NotifyEnrolled queues a registration notice.
func (s *NotificationService) NotifyEnrolled(studentID string, class models.ClassSummary) {
	s.enqueue(jobTypeEnrolled, TransferNotice{
		Event:     jobTypeEnrolled,
		StudentID: studentID,
		NewClass:  class,
		At:        time.Now().UTC(),
	})
}

// NotifyTransfer queues a transfer notice carrying both class summaries.
func (s *NotificationService) NotifyTransfer(studentID string, oldClass, newClass models.ClassSummary) {
	s.enqueue(jobTypeTransfer, TransferNotice{
		Event:     jobTypeTransfer,
		StudentID: studentID,
		OldClass:  &oldClass,
		NewClass:  newClass,
		At:        time.Now().UTC(),
	})
}

func (s *NotificationService) enqueue(jobType string, notice TransferNotice) {
	if s.queue == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: notice,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("type", jobType),
			zap.String("student_id", notice.StudentID),
			zap.Error(err),
		)
	}
}

// HandleJob delivers a queued notice to the webhook. Used as the queue
// handler; returning an error lets the queue apply its retry budget.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	err := s.deliver(ctx, job)
	if s.metrics != nil {
		if err != nil {
			s.metrics.RecordNotification("failure")
		} else {
			s.metrics.RecordNotification("success")
		}
	}
	return err
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	notice, ok := job.Payload.(TransferNotice)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	if s.webhookURL == "" {
		s.logger.Debug("notification delivery skipped, no webhook configured", zap.String("type", job.Type))
		return nil
	}

	body, err := json.Marshal(notice)
	if err != nil {
		s.logger.Error("failed to encode notification", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
