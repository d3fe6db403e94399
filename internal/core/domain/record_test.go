package domain

import (
	"testing"
	"time"
)

func TestProcessingJobFromRecord(t *testing.T) {
	job, err := ProcessingJobFromRecord(Record{
		"id":           "job-1",
		"video_id":     "vid-1",
		"job_type":     "transcode",
		"status":       "running",
		"progress":     float64(40), // JSON numbers arrive as float64
		"started_at":   "2026-08-01T10:00:00Z",
		"webhook_sent": true,
		"priority":     float64(2), // not in the schema
	})
	if err != nil {
		t.Fatalf("ProcessingJobFromRecord failed: %v", err)
	}

	if job.ID != "job-1" || job.VideoID != "vid-1" || job.JobType != "transcode" {
		t.Errorf("job = %+v", job)
	}
	if job.Status != JobStatusRunning {
		t.Errorf("status = %q, want running", job.Status)
	}
	if job.Progress != 40 {
		t.Errorf("progress = %d, want 40", job.Progress)
	}
	want := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if !job.StartedAt.Equal(want) {
		t.Errorf("started_at = %v, want %v", job.StartedAt, want)
	}
	if !job.WebhookSent {
		t.Error("webhook_sent not decoded")
	}
	if job.Extra["priority"] != float64(2) {
		t.Errorf("unknown column not kept in Extra: %#v", job.Extra)
	}
}

func TestJobRecordRoundTrip(t *testing.T) {
	in := ProcessingJob{
		ID:      "job-2",
		JobType: "thumbnail",
		Status:  JobStatusQueued,
		Extra:   Record{"priority": float64(1)},
	}

	r := in.Record()
	if r["priority"] != float64(1) {
		t.Errorf("extra column not flattened: %#v", r)
	}
	if _, ok := r["started_at"]; ok {
		t.Error("zero timestamp should be omitted")
	}

	out, err := ProcessingJobFromRecord(r)
	if err != nil {
		t.Fatalf("ProcessingJobFromRecord failed: %v", err)
	}
	if out.ID != in.ID || out.JobType != in.JobType || out.Status != in.Status {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
	if out.Extra["priority"] != float64(1) {
		t.Errorf("extra lost in round trip: %#v", out.Extra)
	}
}

func TestWebhookEventFromRecord(t *testing.T) {
	e, err := WebhookEventFromRecord(Record{
		"id":         "evt-1",
		"job_id":     "job-1",
		"event_type": "job.completed",
		"payload":    map[string]any{"duration": 12.5},
	})
	if err != nil {
		t.Fatalf("WebhookEventFromRecord failed: %v", err)
	}
	if e.ID != "evt-1" || e.EventType != "job.completed" {
		t.Errorf("event = %+v", e)
	}
	if e.Payload["duration"] != 12.5 {
		t.Errorf("payload = %#v", e.Payload)
	}
	if len(e.Extra) != 0 {
		t.Errorf("unexpected extra: %#v", e.Extra)
	}
}
