package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/extractor"
	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/queue"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/Aleph-Alpha/mediaindex/pkg/logger"
	"github.com/Aleph-Alpha/mediaindex/pkg/tracer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type harness struct {
	o      *Orchestrator
	clock  *clock
	store  *memStore
	blobs  *memBlobs
	index  *memIndex
	ext    *stubExtractor
	queue  *memQueue
	events *memEvents
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr, err := tracer.NewClient(tracer.Config{ServiceName: "mediaindex-test"}, logger.NewNop())
	require.NoError(t, err)

	c := &clock{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		clock:  c,
		store:  newMemStore(c),
		blobs:  newMemBlobs(),
		index:  newMemIndex(),
		ext:    &stubExtractor{version: "clip-v1"},
		queue:  newMemQueue(),
		events: &memEvents{},
	}
	h.o = New(Deps{
		Store:     h.store,
		Blobs:     h.blobs,
		Index:     h.index,
		Extractor: h.ext,
		Queue:     h.queue,
		Events:    h.events,
		Tracer:    tr,
		Logger:    logger.NewNop(),
		Now:       c.Now,
	}, Config{})
	return h
}

// upload stores a small image and returns its record and the first job.
func (h *harness) upload(t *testing.T, owner string) UploadResult {
	t.Helper()
	res, err := h.o.Upload(context.Background(), UploadRequest{
		OwnerID:     owner,
		Filename:    "car.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("jpeg-bytes"),
	})
	require.NoError(t, err)
	return res
}

// drain processes queued payloads in order until the queue is empty and
// returns the delays they were enqueued with.
func (h *harness) drain(t *testing.T) []time.Duration {
	t.Helper()
	var delays []time.Duration
	for i := 0; i < 50; i++ {
		next, ok := h.queue.pop()
		if !ok {
			return delays
		}
		delays = append(delays, next.delay)
		h.clock.Advance(next.delay)
		require.NoError(t, h.o.Process(context.Background(), next.payload))
	}
	t.Fatal("queue did not drain")
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore mirrors the conditional updates of internal/store in memory.
type memStore struct {
	mu      sync.Mutex
	clock   *clock
	records map[string]media.Record
	jobs    map[string]media.Job

	// failCommit makes the next n CommitIndexed calls fail transiently.
	failCommit     int
	failCreate     error
	failTransition error

	// afterBatch runs once, outside the lock, when GetMediaBatch returns.
	afterBatch func()
	// moves logs every state change in the order it was applied.
	moves []move
}

type move struct {
	mediaID  string
	from, to media.State
}

func newMemStore(c *clock) *memStore {
	return &memStore{clock: c, records: map[string]media.Record{}, jobs: map[string]media.Job{}}
}

func transient(op string) error {
	return media.E(op, media.ErrTransientStore, errors.New("connection refused"))
}

func notFound(op, id string) error {
	return media.E(op, media.ErrNotFound, fmt.Errorf("%s not found", id))
}

func conflict(op string) error {
	return media.E(op, media.ErrStateConflict, errors.New("conflict"))
}

func (s *memStore) CreateMedia(_ context.Context, rec *media.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	rec.State = media.StatePending
	if rec.Tags == nil {
		rec.Tags = media.Tags{}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	rec.UpdatedAt = s.clock.Now()
	s.records[rec.ID] = *rec
	return nil
}

func (s *memStore) GetMedia(_ context.Context, id string) (media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return media.Record{}, notFound("get media", id)
	}
	return rec, nil
}

func (s *memStore) GetMediaBatch(_ context.Context, ids []string) (map[string]media.Record, error) {
	s.mu.Lock()
	out := map[string]media.Record{}
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out[id] = rec
		}
	}
	hook := s.afterBatch
	s.afterBatch = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

// moveTo applies one state change the way the store's conditional updates
// would, refusing edges outside the state machine.
func (s *memStore) moveTo(op string, rec *media.Record, to media.State) error {
	if !media.CanTransition(rec.State, to) {
		return media.E(op, media.ErrInvalidTransition, fmt.Errorf("%s -> %s", rec.State, to))
	}
	s.moves = append(s.moves, move{mediaID: rec.ID, from: rec.State, to: to})
	rec.State = to
	return nil
}

func (s *memStore) movesOf(mediaID string) []move {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []move
	for _, m := range s.moves {
		if m.mediaID == mediaID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) DeleteMedia(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return notFound("delete media", id)
	}
	delete(s.records, id)
	for jid, j := range s.jobs {
		if j.MediaID == id {
			delete(s.jobs, jid)
		}
	}
	return nil
}

func (s *memStore) UpdateTags(_ context.Context, id string, tags media.Tags) (media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return media.Record{}, notFound("update tags", id)
	}
	if rec.State != media.StateIndexed {
		return media.Record{}, media.E("update tags", media.ErrInvalidTransition, fmt.Errorf("media is %s", rec.State))
	}
	rec.Tags = tags
	rec.UpdatedAt = s.clock.Now()
	s.records[id] = rec
	return rec, nil
}

func (s *memStore) sorted(keep func(media.Record) bool) []media.Record {
	var out []media.Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) IndexedPage(_ context.Context, afterID string, limit int) ([]media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(r media.Record) bool { return r.State == media.StateIndexed && r.ID > afterID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) StuckFailed(_ context.Context, cutoff time.Time, limit int) ([]media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(r media.Record) bool { return r.State == media.StateFailed && r.UpdatedAt.Before(cutoff) }), nil
}

func (s *memStore) ExpiredLeases(_ context.Context, cutoff time.Time, limit int) ([]media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(r media.Record) bool {
		return r.State == media.StateProcessing && r.LeaseUntil != nil && r.LeaseUntil.Before(cutoff)
	}), nil
}

func (s *memStore) outstanding(mediaID string) *media.Job {
	for _, j := range s.jobs {
		if j.MediaID == mediaID && j.FinishedAt == nil {
			j := j
			return &j
		}
	}
	return nil
}

func (s *memStore) OpenJob(_ context.Context, mediaID string) (media.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[mediaID]
	if !ok {
		return media.Job{}, false, notFound("open job", mediaID)
	}
	if j := s.outstanding(mediaID); j != nil {
		return *j, true, nil
	}
	if rec.State != media.StatePending {
		return media.Job{}, false, media.E("open job", media.ErrInvalidTransition, fmt.Errorf("media is %s", rec.State))
	}
	job := s.newJob(&rec)
	s.records[mediaID] = rec
	return job, false, nil
}

func (s *memStore) newJob(rec *media.Record) media.Job {
	job := media.Job{
		ID:             uuid.NewString(),
		MediaID:        rec.ID,
		IdempotencyKey: media.IdempotencyKey(rec.ID),
		Attempt:        rec.Attempts + 1,
		EnqueuedAt:     s.clock.Now(),
	}
	s.jobs[job.ID] = job
	rec.CurrentJobID = &job.ID
	rec.Attempts = job.Attempt
	rec.UpdatedAt = s.clock.Now()
	return job
}

func (s *memStore) AcquireLease(_ context.Context, mediaID, jobID string, lease time.Duration) (media.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[mediaID]
	if !ok {
		return media.Record{}, false, notFound("acquire lease", mediaID)
	}
	if rec.CurrentJobID == nil || *rec.CurrentJobID != jobID {
		return media.Record{}, false, conflict("acquire lease")
	}
	now := s.clock.Now()
	takeover := false
	switch rec.State {
	case media.StatePending:
	case media.StateProcessing:
		if rec.LeaseUntil != nil && rec.LeaseUntil.After(now) {
			return media.Record{}, false, conflict("acquire lease")
		}
		takeover = true
	default:
		return media.Record{}, false, conflict("acquire lease")
	}
	if !takeover {
		if err := s.moveTo("acquire lease", &rec, media.StateProcessing); err != nil {
			return media.Record{}, false, err
		}
	}
	until := now.Add(lease)
	rec.LeaseUntil = &until
	rec.UpdatedAt = now
	s.records[mediaID] = rec
	return rec, takeover, nil
}

func (s *memStore) Transition(_ context.Context, t store.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTransition != nil {
		return s.failTransition
	}
	if !media.CanTransition(t.From, t.To) {
		return media.E("transition", media.ErrInvalidTransition, fmt.Errorf("%s -> %s", t.From, t.To))
	}
	rec, ok := s.records[t.MediaID]
	if !ok || rec.State != t.From || (t.JobID != "" && (rec.CurrentJobID == nil || *rec.CurrentJobID != t.JobID)) {
		return conflict("transition")
	}
	if err := s.moveTo("transition", &rec, t.To); err != nil {
		return err
	}
	if reason, ok := t.Fields["failure_reason"].(string); ok {
		rec.FailureReason = reason
	}
	if t.To != media.StateProcessing {
		rec.LeaseUntil = nil
	}
	rec.UpdatedAt = s.clock.Now()
	s.records[t.MediaID] = rec
	return nil
}

func (s *memStore) finish(jobID, outcome string) {
	if j, ok := s.jobs[jobID]; ok && j.FinishedAt == nil {
		now := s.clock.Now()
		j.FinishedAt = &now
		j.Outcome = outcome
		s.jobs[jobID] = j
	}
}

func (s *memStore) CommitIndexed(_ context.Context, mediaID, jobID string, f store.IndexedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit > 0 {
		s.failCommit--
		return transient("commit indexed")
	}
	rec, ok := s.records[mediaID]
	if !ok || rec.State != media.StateProcessing || rec.CurrentJobID == nil || *rec.CurrentJobID != jobID {
		return conflict("commit indexed")
	}
	if err := s.moveTo("commit indexed", &rec, media.StateIndexed); err != nil {
		return err
	}
	applyIndexed(&rec, f)
	rec.LeaseUntil = nil
	rec.FailureReason = ""
	rec.UpdatedAt = s.clock.Now()
	s.records[mediaID] = rec
	s.finish(jobID, store.OutcomeIndexed)
	return nil
}

func applyIndexed(rec *media.Record, f store.IndexedFields) {
	ref := f.EmbeddingRef
	at := f.IndexedAt
	rec.EmbeddingRef = &ref
	rec.ModelVersion = f.ModelVersion
	rec.Caption = f.Caption
	rec.Tags = f.Tags
	rec.ThumbnailKey = f.ThumbnailKey
	rec.IndexedAt = &at
}

func (s *memStore) RefreshIndexed(_ context.Context, mediaID string, f store.IndexedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[mediaID]
	if !ok || rec.State != media.StateIndexed {
		return conflict("refresh indexed")
	}
	applyIndexed(&rec, f)
	s.records[mediaID] = rec
	return nil
}

func (s *memStore) Requeue(_ context.Context, mediaID, jobID string) (media.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[mediaID]
	if !ok || rec.State != media.StateFailed || rec.CurrentJobID == nil || *rec.CurrentJobID != jobID {
		return media.Job{}, conflict("requeue")
	}
	if err := s.moveTo("requeue", &rec, media.StatePending); err != nil {
		return media.Job{}, err
	}
	s.finish(jobID, store.OutcomeRetried)
	job := s.newJob(&rec)
	rec.LeaseUntil = nil
	s.records[mediaID] = rec
	return job, nil
}

func (s *memStore) MarkDead(_ context.Context, mediaID, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[mediaID]
	if !ok || rec.State != media.StateFailed || rec.CurrentJobID == nil || *rec.CurrentJobID != jobID {
		return conflict("mark dead")
	}
	if err := s.moveTo("mark dead", &rec, media.StateDead); err != nil {
		return err
	}
	rec.FailureReason = reason
	rec.UpdatedAt = s.clock.Now()
	s.records[mediaID] = rec
	s.finish(jobID, store.OutcomeDead)
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (media.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return media.Job{}, notFound("get job", id)
	}
	return j, nil
}

func (s *memStore) StaleJobs(_ context.Context, cutoff time.Time, limit int) ([]media.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []media.Job
	for _, j := range s.jobs {
		rec := s.records[j.MediaID]
		if j.FinishedAt == nil && j.EnqueuedAt.Before(cutoff) && rec.State == media.StatePending &&
			rec.CurrentJobID != nil && *rec.CurrentJobID == j.ID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *memStore) TouchJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok && j.FinishedAt == nil {
		j.EnqueuedAt = s.clock.Now()
		s.jobs[jobID] = j
	}
	return nil
}

func (s *memStore) PurgeJobs(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) record(id string) media.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// setRecord overwrites a record; tests use it to stage interrupted states.
func (s *memStore) setRecord(rec media.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, notFound("blob get", key)
	}
	return data, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

type memIndex struct {
	mu       sync.Mutex
	dim      int
	entries  map[string]media.EmbeddingEntry
	failUps  int
	failTags int
}

func newMemIndex() *memIndex { return &memIndex{entries: map[string]media.EmbeddingEntry{}} }

func (x *memIndex) EnsureCollection(_ context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dim != 0 && x.dim != dim {
		return media.E("ensure collection", media.ErrNonRetryableMedia, fmt.Errorf("dimension %d != %d", x.dim, dim))
	}
	x.dim = dim
	return nil
}

func (x *memIndex) Upsert(_ context.Context, e media.EmbeddingEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.failUps > 0 {
		x.failUps--
		return transient("vector upsert")
	}
	x.entries[e.MediaID] = e
	return nil
}

func (x *memIndex) Delete(_ context.Context, ids ...string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.entries, id)
	}
	return nil
}

func (x *memIndex) DeleteIndexedBefore(_ context.Context, cutoff time.Time, ids ...string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		if e, ok := x.entries[id]; ok && e.IndexedAt.Before(cutoff) {
			delete(x.entries, id)
		}
	}
	return nil
}

func (x *memIndex) SetTags(_ context.Context, id string, tags []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.failTags > 0 {
		x.failTags--
		return transient("vector set tags")
	}
	if e, ok := x.entries[id]; ok {
		e.Tags = append([]string(nil), tags...)
		x.entries[id] = e
	}
	return nil
}

func (x *memIndex) QueryTopK(_ context.Context, vector []float32, k int) ([]media.VectorMatch, error) {
	return nil, nil
}

func (x *memIndex) Scan(_ context.Context, cursor string, limit int) ([]media.EntryInfo, string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make([]string, 0, len(x.entries))
	for id := range x.entries {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	next := ""
	if len(ids) > limit {
		ids = ids[:limit]
		next = ids[len(ids)-1]
	}
	out := make([]media.EntryInfo, len(ids))
	for i, id := range ids {
		e := x.entries[id]
		out[i] = media.EntryInfo{MediaID: id, ModelVersion: e.ModelVersion, IndexedAt: e.IndexedAt}
	}
	return out, next, nil
}

func (x *memIndex) has(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.entries[id]
	return ok
}

func (x *memIndex) entry(id string) media.EmbeddingEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.entries[id]
}

func (x *memIndex) put(e media.EmbeddingEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[e.MediaID] = e
}

// stubExtractor returns a fixed result or a scripted sequence of errors.
type stubExtractor struct {
	mu       sync.Mutex
	version  string
	errs     []error
	always   error
	calls    int
	keyFrame []byte
}

func (e *stubExtractor) Extract(_ context.Context, data []byte, _ string) (extractor.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.always != nil {
		return extractor.Result{}, e.always
	}
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		if err != nil {
			return extractor.Result{}, err
		}
	}
	return extractor.Result{
		Vector:       []float32{float32(len(data)), 1, 0},
		Caption:      "a red car",
		Tags:         media.Tags{"car": 0.9, "red": 0.5},
		ModelVersion: e.version,
		KeyFrame:     e.keyFrame,
	}, nil
}

func (e *stubExtractor) ModelVersion() string { return e.version }

func (e *stubExtractor) Dimension(context.Context) (int, error) { return 3, nil }

func (e *stubExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type enqueued struct {
	payload media.Payload
	delay   time.Duration
}

// memQueue records enqueues and dedupes like the real backends.
type memQueue struct {
	mu          sync.Mutex
	seen        map[string]bool
	enqueued    []enqueued
	republished []media.Payload
	failNext    bool
}

func newMemQueue() *memQueue { return &memQueue{seen: map[string]bool{}} }

func (q *memQueue) Enqueue(_ context.Context, p media.Payload, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return transient("enqueue")
	}
	if q.seen[p.DedupeKey()] {
		return nil
	}
	q.seen[p.DedupeKey()] = true
	q.enqueued = append(q.enqueued, enqueued{payload: p, delay: delay})
	return nil
}

func (q *memQueue) Republish(_ context.Context, p media.Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.republished = append(q.republished, p)
	return nil
}

func (q *memQueue) Consume(context.Context) (<-chan queue.Delivery, error) {
	return nil, errors.New("not used")
}

func (q *memQueue) Close() error { return nil }

// pop removes the oldest enqueued payload.
func (q *memQueue) pop() (enqueued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.enqueued) == 0 {
		return enqueued{}, false
	}
	e := q.enqueued[0]
	q.enqueued = q.enqueued[1:]
	return e, true
}

func (q *memQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

type memEvents struct {
	mu     sync.Mutex
	events []Event
}

func (m *memEvents) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}
