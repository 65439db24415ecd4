package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/enrollment-api/internal/models"
	"github.com/opencourse/enrollment-api/pkg/jobs"
)

type queueStub struct {
	jobs []jobs.Job
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func TestNotificationServiceEnqueuesTransferNotice(t *testing.T) {
	queue := &queueStub{}
	svc := NewNotificationService(queue, "http://example.org/hook", 0, nil, nil)

	oldClass := models.ClassSummary{ID: "class-1", Name: "Alpha", Track: models.TrackChurch}
	newClass := models.ClassSummary{ID: "class-2", Name: "Beta", Track: models.TrackChurch}
	svc.NotifyTransfer("stu-1", oldClass, newClass)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "enrollment.transferred", queue.jobs[0].Type)
	notice, ok := queue.jobs[0].Payload.(TransferNotice)
	require.True(t, ok)
	assert.Equal(t, "stu-1", notice.StudentID)
	require.NotNil(t, notice.OldClass)
	assert.Equal(t, "class-1", notice.OldClass.ID)
	assert.Equal(t, "class-2", notice.NewClass.ID)
}

func TestNotificationServiceDeliversToWebhook(t *testing.T) {
	var received TransferNotice
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	metrics := &notificationMetricsStub{}
	svc := NewNotificationService(nil, server.URL, 0, metrics, nil)
	err := svc.HandleJob(context.Background(), jobs.Job{
		ID:   "job-1",
		Type: "enrollment.registered",
		Payload: TransferNotice{
			Event:     "enrollment.registered",
			StudentID: "stu-1",
			NewClass:  models.ClassSummary{ID: "class-1", Name: "Alpha", Track: models.TrackChurch},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", received.StudentID)
	assert.Equal(t, []string{"success"}, metrics.results)
}

func TestNotificationServiceRetriesOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	metrics := &notificationMetricsStub{}
	svc := NewNotificationService(nil, server.URL, 0, metrics, nil)
	err := svc.HandleJob(context.Background(), jobs.Job{
		ID:      "job-1",
		Type:    "enrollment.registered",
		Payload: TransferNotice{StudentID: "stu-1"},
	})
	require.Error(t, err, "a failed delivery must be surfaced so the queue can retry it")
	assert.Equal(t, []string{"failure"}, metrics.results)
}

func TestNotificationServiceSkipsWithoutWebhook(t *testing.T) {
	svc := NewNotificationService(nil, "", 0, nil, nil)
	err := svc.HandleJob(context.Background(), jobs.Job{
		ID:      "job-1",
		Type:    "enrollment.registered",
		Payload: TransferNotice{StudentID: "stu-1"},
	})
	require.NoError(t, err)
}

type notificationMetricsStub struct {
	results []string
}

func (m *notificationMetricsStub) RecordNotification(result string) {
	m.results = append(m.results, result)
}
