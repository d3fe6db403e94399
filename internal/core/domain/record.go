package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Record is a free-form row returned by the structured data surface.
// Values are JSON-typed (string, float64, bool, []any, map[string]any, nil);
// stores normalize column values to these kinds at their boundary.
type Record map[string]any

// String returns the string value of a field, or "" if absent or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// VideoStatus is the processing state of a stored video.
type VideoStatus string

const (
	VideoStatusPending   VideoStatus = "pending"
	VideoStatusProcessed VideoStatus = "processed"
	VideoStatusFailed    VideoStatus = "failed"
)

// Video is the known schema of the "videos" table.
// Fields outside the schema travel in Extra.
type Video struct {
	ID            string      `json:"id"`
	Filename      string      `json:"filename"`
	FilePath      string      `json:"file_path"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Tags          []string    `json:"tags"`
	Duration      float64     `json:"duration"`
	SizeBytes     int64       `json:"size_bytes"`
	Format        string      `json:"format"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	ThumbnailPath string      `json:"thumbnail_path"`
	CreatedAt     time.Time   `json:"created_at,omitzero"`
	UpdatedAt     time.Time   `json:"updated_at,omitzero"`
	UserID        string      `json:"user_id"`
	Status        VideoStatus `json:"status"`
	Extra         Record      `json:"-"`
}

// VideoFromRecord maps a videos row onto the known schema. Columns the
// schema does not name are preserved in Extra.
func VideoFromRecord(r Record) (Video, error) {
	var v Video
	err := decodeRecord(r, &v, &v.Extra)
	return v, err
}

// Record flattens the video back into a row, Extra columns included.
func (v Video) Record() Record {
	return encodeRecord(v, v.Extra)
}

// JobStatus is the state of a processing job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ProcessingJob is the known schema of the "processing_jobs" table.
type ProcessingJob struct {
	ID          string         `json:"id"`
	VideoID     string         `json:"video_id"`
	JobType     string         `json:"job_type"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
	Params      map[string]any `json:"params"`
	Error       string         `json:"error"`
	WebhookSent bool           `json:"webhook_sent"`
	Extra       Record         `json:"-"`
}

// ProcessingJobFromRecord maps a processing_jobs row onto the known schema.
func ProcessingJobFromRecord(r Record) (ProcessingJob, error) {
	var j ProcessingJob
	err := decodeRecord(r, &j, &j.Extra)
	return j, err
}

// Record flattens the job back into a row, Extra columns included.
func (j ProcessingJob) Record() Record {
	return encodeRecord(j, j.Extra)
}

// WebhookEvent is the known schema of the "webhook_events" table.
type WebhookEvent struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	EventType string         `json:"event_type"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload"`
	SentAt    time.Time      `json:"sent_at,omitzero"`
	Endpoint  string         `json:"endpoint"`
	Extra     Record         `json:"-"`
}

// WebhookEventFromRecord maps a webhook_events row onto the known schema.
func WebhookEventFromRecord(r Record) (WebhookEvent, error) {
	var e WebhookEvent
	err := decodeRecord(r, &e, &e.Extra)
	return e, err
}

// Record flattens the event back into a row, Extra columns included.
func (e WebhookEvent) Record() Record {
	return encodeRecord(e, e.Extra)
}

// decodeRecord fills the schema struct from a row through a JSON
// round-trip, so numeric and timestamp kinds convert the same way the
// stores produce them. Unmapped columns land in extra.
func decodeRecord(r Record, out any, extra *Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}

	known := schemaColumns(reflect.TypeOf(out).Elem())
	for k, v := range r {
		if !known[k] {
			if *extra == nil {
				*extra = make(Record)
			}
			(*extra)[k] = v
		}
	}
	return nil
}

func encodeRecord(in any, extra Record) Record {
	b, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil
	}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

func schemaColumns(t reflect.Type) map[string]bool {
	cols := make(map[string]bool, t.NumField())
	for n := 0; n < t.NumField(); n++ {
		name, _, _ := strings.Cut(t.Field(n).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			cols[name] = true
		}
	}
	return cols
}
