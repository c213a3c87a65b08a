package services_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bionicotaku/lingo-services-media/internal/clients/origin"
	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	"github.com/bionicotaku/lingo-services-media/internal/models/po"
	"github.com/bionicotaku/lingo-services-media/internal/repositories"
	"github.com/bionicotaku/lingo-services-media/internal/services"
)

const storeBase = "https://store.example/"

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Upload(_ context.Context, path string, data []byte, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	s.objects[path] = data
	return int64(len(data)), nil
}

func (s *fakeStore) ResolveURL(_ context.Context, path string) (string, error) {
	return storeBase + path, nil
}

func (s *fakeStore) Download(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *fakeStore) Holds(rawURL string) bool {
	return strings.HasPrefix(rawURL, storeBase)
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	mime  string
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, _ string) (*origin.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	mime := f.mime
	if mime == "" {
		mime = "image/png"
	}
	return &origin.Payload{Data: []byte("fake-image-bytes"), MimeType: mime}, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memIndex 用内存 map 模拟 media.image_cache 的状态机语义。
type memIndex struct {
	mu          sync.Mutex
	byHash      map[string]*po.ImageCacheRecord
	byID        map[uuid.UUID]*po.ImageCacheRecord
	ceiling     int32
	findErr     error
	completeErr error
}

func newMemIndex() *memIndex {
	return &memIndex{
		byHash:  map[string]*po.ImageCacheRecord{},
		byID:    map[uuid.UUID]*po.ImageCacheRecord{},
		ceiling: 3,
	}
}

func (m *memIndex) FindByHash(_ context.Context, _ txmanager.Session, hash string) (*po.ImageCacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	rec, ok := m.byHash[hash]
	if !ok {
		return nil, repositories.ErrCacheRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memIndex) CreateIfAbsent(_ context.Context, _ txmanager.Session, originalURL, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHash[hash]; ok {
		return false, nil
	}
	rec := &po.ImageCacheRecord{
		ID:          uuid.New(),
		OriginalURL: originalURL,
		URLHash:     hash,
		Status:      po.ImageCacheStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.byHash[hash] = rec
	m.byID[rec.ID] = rec
	return true, nil
}

func (m *memIndex) Claim(_ context.Context, _ txmanager.Session, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.Status != po.ImageCacheStatusPending {
		return false, nil
	}
	if rec.NextRetryAt != nil && rec.NextRetryAt.After(time.Now()) {
		return false, nil
	}
	rec.Status = po.ImageCacheStatusDownloading
	return true, nil
}

func (m *memIndex) MarkCompleted(_ context.Context, _ txmanager.Session, id uuid.UUID, location string, size int64, mimeType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	rec, ok := m.byID[id]
	if !ok {
		return repositories.ErrCacheRecordNotFound
	}
	rec.Status = po.ImageCacheStatusCompleted
	rec.RemoteLocation = &location
	rec.FileSize = &size
	rec.MimeType = &mimeType
	rec.RetryCount = 0
	rec.LastError = nil
	rec.NextRetryAt = nil
	rec.AccessCount++
	return nil
}

func (m *memIndex) MarkFailed(_ context.Context, _ txmanager.Session, id uuid.UUID, cause string, nextRetryAt *time.Time) (po.ImageCacheStatus, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return "", 0, repositories.ErrCacheRecordNotFound
	}
	rec.RetryCount++
	rec.LastError = &cause
	if rec.RetryCount >= m.ceiling {
		rec.Status = po.ImageCacheStatusFailed
		rec.NextRetryAt = nil
	} else {
		rec.Status = po.ImageCacheStatusPending
		rec.NextRetryAt = nextRetryAt
	}
	return rec.Status, rec.RetryCount, nil
}

func (m *memIndex) RecordAccess(_ context.Context, _ txmanager.Session, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byID[id]; ok {
		rec.AccessCount++
	}
}

func (m *memIndex) Stats(_ context.Context, _ txmanager.Session) (*po.ImageCacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &po.ImageCacheStats{}
	for _, rec := range m.byHash {
		stats.Total++
		switch rec.Status {
		case po.ImageCacheStatusPending:
			stats.Pending++
		case po.ImageCacheStatusCompleted:
			stats.Completed++
		case po.ImageCacheStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *memIndex) record(hash string) *po.ImageCacheRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byHash[hash]
}

type memEntities struct {
	mu       sync.Mutex
	writes   map[uuid.UUID]string
	writeErr error
}

func newMemEntities() *memEntities {
	return &memEntities{writes: map[uuid.UUID]string{}}
}

func (m *memEntities) WriteBack(_ context.Context, _ txmanager.Session, _ po.EntityKind, entityID uuid.UUID, location string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return false, m.writeErr
	}
	m.writes[entityID] = location
	return true, nil
}

type noopTxManager struct{}

type noopSession struct{}

func (noopSession) Tx() pgx.Tx               { return nil }
func (noopSession) Context() context.Context { return context.Background() }

func (noopTxManager) WithinTx(ctx context.Context, _ txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	return fn(ctx, noopSession{})
}

func (noopTxManager) WithinReadOnlyTx(ctx context.Context, _ txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	return fn(ctx, noopSession{})
}

type harness struct {
	resolver *services.MediaResolverService
	index    *memIndex
	entities *memEntities
	fetcher  *countingFetcher
	store    *fakeStore
}

func newHarness(proxyTpl string) *harness {
	index := newMemIndex()
	entities := newMemEntities()
	fetcher := &countingFetcher{}
	store := newFakeStore()
	logger := log.NewStdLogger(io.Discard)
	transfer := services.NewMediaTransferService(fetcher, store, logger)
	resolver := services.NewMediaResolverService(index, entities, transfer, store, noopTxManager{}, conf.CacheConfig{
		RetryCeiling:     3,
		Backoff:          []time.Duration{time.Minute},
		ProxyURLTemplate: proxyTpl,
	}, logger)
	return &harness{resolver: resolver, index: index, entities: entities, fetcher: fetcher, store: store}
}

func TestResolveEmptyURL(t *testing.T) {
	h := newHarness("")
	res := h.resolver.Resolve(context.Background(), "  ", po.EntityKindCreator, uuid.Nil)
	if res.Kind != services.ResolveKindNone {
		t.Fatalf("expected none, got %s", res.Kind)
	}
	if h.fetcher.count() != 0 {
		t.Fatalf("fetcher should not be called for empty url")
	}
}

func TestResolveSelfReferentialURL(t *testing.T) {
	h := newHarness("")
	cached := storeBase + "creator/abcd.png"
	res := h.resolver.Resolve(context.Background(), cached, po.EntityKindCreator, uuid.Nil)
	if res.Kind != services.ResolveKindRemote || res.Value != cached {
		t.Fatalf("expected unchanged remote result, got %+v", res)
	}
	if h.fetcher.count() != 0 {
		t.Fatalf("fetcher should not be called for self-referential url")
	}
}

func TestResolveMissDownloadsAndCompletes(t *testing.T) {
	h := newHarness("")
	originalURL := "https://cdn.example/a.jpg"
	entityID := uuid.New()

	res := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, entityID)
	if res.Kind != services.ResolveKindRemote {
		t.Fatalf("expected remote result, got %+v", res)
	}
	hash := services.ContentAddress(originalURL)
	wantLocation := storeBase + "creator/" + hash + ".png"
	if res.Value != wantLocation {
		t.Fatalf("expected location %s, got %s", wantLocation, res.Value)
	}

	rec := h.index.record(hash)
	if rec == nil || rec.Status != po.ImageCacheStatusCompleted {
		t.Fatalf("expected completed record, got %+v", rec)
	}
	if rec.AccessCount != 1 {
		t.Fatalf("expected access count 1 after completion, got %d", rec.AccessCount)
	}
	if got := h.entities.writes[entityID]; got != wantLocation {
		t.Fatalf("expected write-back %s, got %s", wantLocation, got)
	}
	if h.fetcher.count() != 1 {
		t.Fatalf("expected exactly one fetch, got %d", h.fetcher.count())
	}
}

func TestResolveSecondCallHitsWithoutFetch(t *testing.T) {
	h := newHarness("")
	originalURL := "https://cdn.example/a.jpg"

	first := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.Nil)
	second := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.Nil)

	if second.Kind != services.ResolveKindRemote || second.Value != first.Value {
		t.Fatalf("expected identical cached result, got %+v vs %+v", first, second)
	}
	if h.fetcher.count() != 1 {
		t.Fatalf("expected single fetch across both calls, got %d", h.fetcher.count())
	}
	rec := h.index.record(services.ContentAddress(originalURL))
	if rec.AccessCount != 2 {
		t.Fatalf("expected access count 2, got %d", rec.AccessCount)
	}
}

func TestResolveLostClaimFallsBackToProxy(t *testing.T) {
	h := newHarness("https://proxy.example/fetch?target=%s")
	originalURL := "https://cdn.example/contended.jpg"
	hash := services.ContentAddress(originalURL)

	// 预置一条已被他人认领的记录。
	if _, err := h.index.CreateIfAbsent(context.Background(), nil, originalURL, hash); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	rec := h.index.record(hash)
	if won, _ := h.index.Claim(context.Background(), nil, rec.ID); !won {
		t.Fatalf("seed claim should win")
	}

	res := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindVideo, uuid.Nil)
	if res.Kind != services.ResolveKindRedirect {
		t.Fatalf("expected redirect fallback, got %+v", res)
	}
	if !strings.Contains(res.Value, "https%3A%2F%2Fcdn.example%2Fcontended.jpg") {
		t.Fatalf("expected escaped original url in proxy value, got %s", res.Value)
	}
	if h.fetcher.count() != 0 {
		t.Fatalf("loser must not fetch, got %d calls", h.fetcher.count())
	}
}

func TestResolveFetchFailureDegradesToFallback(t *testing.T) {
	h := newHarness("")
	h.fetcher.err = errors.New("connection reset")
	originalURL := "https://cdn.example/broken.jpg"

	res := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.Nil)
	if res.Kind != services.ResolveKindRedirect || res.Value != originalURL {
		t.Fatalf("expected pass-through fallback, got %+v", res)
	}

	rec := h.index.record(services.ContentAddress(originalURL))
	if rec.Status != po.ImageCacheStatusPending {
		t.Fatalf("expected record back to pending for retry, got %s", rec.Status)
	}
	if rec.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", rec.RetryCount)
	}
}

func TestResolveIndexErrorNeverSurfaces(t *testing.T) {
	h := newHarness("")
	h.index.findErr = errors.New("db down")
	originalURL := "https://cdn.example/a.jpg"

	res := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.Nil)
	if res.Kind != services.ResolveKindRedirect || res.Value != originalURL {
		t.Fatalf("expected degraded pass-through, got %+v", res)
	}
}

func TestStatsPassthrough(t *testing.T) {
	h := newHarness("")
	_ = h.resolver.Resolve(context.Background(), "https://cdn.example/a.jpg", po.EntityKindCreator, uuid.Nil)

	stats, err := h.resolver.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestResolveHitRepairsEntityWriteBack(t *testing.T) {
	h := newHarness("")
	originalURL := "https://cdn.example/a.jpg"

	// 第一次由别的调用方完成下载，但没有携带实体信息。
	first := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.Nil)
	if first.Kind != services.ResolveKindRemote {
		t.Fatalf("expected remote result, got %+v", first)
	}
	if len(h.entities.writes) != 0 {
		t.Fatalf("no write-back expected without entity id")
	}

	// 命中时带上实体，缓存地址应被补写。
	entityID := uuid.New()
	second := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, entityID)
	if second.Value != first.Value {
		t.Fatalf("expected identical cached result, got %s", second.Value)
	}
	if got := h.entities.writes[entityID]; got != first.Value {
		t.Fatalf("expected write-back on hit, got %q", got)
	}
}

func TestResolveWriteBackFailureKeepsCompleted(t *testing.T) {
	h := newHarness("")
	h.entities.writeErr = errors.New("entity row gone")
	originalURL := "https://cdn.example/a.jpg"

	res := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.New())
	if res.Kind != services.ResolveKindRemote {
		t.Fatalf("write-back failure must not degrade the result, got %+v", res)
	}

	rec := h.index.record(services.ContentAddress(originalURL))
	if rec.Status != po.ImageCacheStatusCompleted {
		t.Fatalf("expected completed record despite write-back failure, got %s", rec.Status)
	}
}

func TestResolveCompletionFailureReleasesClaim(t *testing.T) {
	h := newHarness("")
	h.index.completeErr = errors.New("db down at commit")
	originalURL := "https://cdn.example/a.jpg"

	res := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.Nil)
	if res.Kind != services.ResolveKindRedirect || res.Value != originalURL {
		t.Fatalf("expected pass-through fallback, got %+v", res)
	}

	// 记录必须退出 downloading，否则 claim 和补偿队列都无法再碰它。
	rec := h.index.record(services.ContentAddress(originalURL))
	if rec.Status != po.ImageCacheStatusPending {
		t.Fatalf("expected record released back to pending, got %s", rec.Status)
	}
	if rec.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", rec.RetryCount)
	}
}

func TestResolveConcurrentCallsFetchOnce(t *testing.T) {
	h := newHarness("")
	originalURL := "https://cdn.example/contended.jpg"

	const callers = 8
	results := make([]services.ResolveResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.resolver.Resolve(context.Background(), originalURL, po.EntityKindVideo, uuid.Nil)
		}(i)
	}
	wg.Wait()

	if h.fetcher.count() != 1 {
		t.Fatalf("expected exactly one fetch across concurrent callers, got %d", h.fetcher.count())
	}
	stats, err := h.resolver.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected one cache record, got %d", stats.Total)
	}
	for i, res := range results {
		if res.Kind != services.ResolveKindRemote && res.Kind != services.ResolveKindRedirect {
			t.Fatalf("caller %d got unusable result %+v", i, res)
		}
	}
}

func TestResolveCompletedForeignLocationRedirects(t *testing.T) {
	h := newHarness("")
	originalURL := "https://cdn.example/legacy.jpg"
	hash := services.ContentAddress(originalURL)
	if _, err := h.index.CreateIfAbsent(context.Background(), nil, originalURL, hash); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	foreign := "https://old-cdn.example/legacy.jpg"
	rec := h.index.record(hash)
	rec.Status = po.ImageCacheStatusCompleted
	rec.RemoteLocation = &foreign

	res := h.resolver.Resolve(context.Background(), originalURL, po.EntityKindCreator, uuid.Nil)
	if res.Kind != services.ResolveKindRedirect || res.Value != foreign {
		t.Fatalf("expected redirect to stored foreign url, got %+v", res)
	}
	if h.fetcher.count() != 0 {
		t.Fatalf("completed record must not trigger a fetch")
	}
}
