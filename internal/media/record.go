package media

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Media types accepted by the pipeline.
const (
	TypeImage = "image"
	TypeVideo = "video"
)

// Record is the relational source of truth for one uploaded file.
// EmbeddingRef is non-nil exactly when State is INDEXED.
type Record struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID       string     `gorm:"index;not null" json:"owner_id"`
	BlobKey       string     `gorm:"not null" json:"blob_key"`
	Filename      string     `json:"filename"`
	ContentType   string     `json:"content_type"`
	MediaType     string     `gorm:"type:varchar(16);not null" json:"media_type"`
	SizeBytes     int64      `json:"size_bytes"`
	State         State      `gorm:"type:varchar(16);index;not null" json:"state"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	CurrentJobID  *string    `gorm:"type:uuid" json:"current_job_id,omitempty"`
	LeaseUntil    *time.Time `json:"lease_until,omitempty"`
	EmbeddingRef  *string    `json:"embedding_ref,omitempty"`
	ModelVersion  string     `json:"model_version,omitempty"`
	Caption       string     `json:"caption,omitempty"`
	Tags          Tags       `gorm:"type:jsonb;not null;default:'{}'" json:"tags"`
	ThumbnailKey  string     `json:"thumbnail_key,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	IndexedAt     *time.Time `json:"indexed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"index;not null" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName pins the gorm table name.
func (Record) TableName() string { return "media_records" }

// Job is one attempt at ingesting a record. A job is outstanding until FinishedAt is set.
type Job struct {
	ID             string     `gorm:"primaryKey;type:uuid" json:"id"`
	MediaID        string     `gorm:"type:uuid;index;not null" json:"media_id"`
	IdempotencyKey string     `gorm:"not null" json:"idempotency_key"`
	Attempt        int        `gorm:"not null" json:"attempt"`
	EnqueuedAt     time.Time  `gorm:"not null" json:"enqueued_at"`
	FinishedAt     *time.Time `gorm:"index" json:"finished_at,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
}

func (Job) TableName() string { return "ingestion_jobs" }

// Outstanding reports whether the job has not been archived yet.
func (j Job) Outstanding() bool { return j.FinishedAt == nil }

// Tags maps a tag to its confidence in [0,1]. Stored as jsonb.
type Tags map[string]float64

// Value implements driver.Valuer.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]float64(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *Tags) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = Tags{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("tags: unsupported source type %T", src)
	}
	out := Tags{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*t = out
	return nil
}

// Names returns the tag names sorted alphabetically.
func (t Tags) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of t with other folded in, keeping the higher confidence per tag.
func (t Tags) Merge(other Tags) Tags {
	out := make(Tags, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		if cur, ok := out[k]; !ok || v > cur {
			out[k] = v
		}
	}
	return out
}

// EmbeddingEntry is the live vector for one indexed record.
type EmbeddingEntry struct {
	MediaID      string
	OwnerID      string
	Vector       []float32
	ModelVersion string
	IndexedAt    time.Time
	Tags         []string
}

// EntryInfo is what the reconciliation sweep needs to know about a stored vector.
type EntryInfo struct {
	MediaID      string
	ModelVersion string
	IndexedAt    time.Time
}

// VectorMatch is one raw nearest-neighbour hit. Cosine is in [-1,1].
type VectorMatch struct {
	MediaID string
	Cosine  float32
}

// Filter restricts a query over records. Zero values match everything.
type Filter struct {
	OwnerID string
	Tags    []string
	From    *time.Time
	To      *time.Time
	States  []State
}

// Matches applies the filter to an already loaded record.
func (f Filter) Matches(r Record) bool {
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	for _, tag := range f.Tags {
		if _, ok := r.Tags[tag]; !ok {
			return false
		}
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if r.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Page is offset pagination.
type Page struct {
	Offset int
	Limit  int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize(defaultLimit, maxLimit int) Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// Slice returns the window [Offset, Offset+Limit) of a list of length n.
func (p Page) Slice(n int) (int, int) {
	start := p.Offset
	if start > n {
		start = n
	}
	end := start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

// SearchResult is one ranked hit returned by the search coordinator.
type SearchResult struct {
	MediaID string  `json:"media_id"`
	Score   float64 `json:"score"`
	Match   string  `json:"match,omitempty"`
	Rank    int     `json:"rank"`
	Record  *Record `json:"media,omitempty"`
}
