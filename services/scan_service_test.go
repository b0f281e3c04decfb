package services

import (
	"context"
	"errors"
	"strikefeed/interfaces"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage records archived snapshots and scans in memory
type fakeStorage struct {
	mu        sync.Mutex
	snapshots []*interfaces.Snapshot
	scans     []*interfaces.ScanRecord
	saveErr   error
	cleanups  []time.Time
}

func (f *fakeStorage) SaveSnapshot(snapshot *interfaces.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func (f *fakeStorage) LatestSnapshots() ([]*interfaces.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots, nil
}

func (f *fakeStorage) SaveScan(record *interfaces.ScanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, record)
	return nil
}

func (f *fakeStorage) GetScans(symbol string, limit int) ([]*interfaces.ScanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans, nil
}

func (f *fakeStorage) CleanupOldData(before time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, before)
	return nil
}

var newYork, _ = time.LoadLocation("America/New_York")

// Thursday 2024-06-20
var (
	marketOpenAt   = time.Date(2024, 6, 20, 10, 0, 0, 0, newYork)
	afterHoursAt   = time.Date(2024, 6, 20, 17, 30, 0, 0, newYork)
	weekendAt      = time.Date(2024, 6, 22, 12, 0, 0, 0, newYork)
	testExpiration = "2024-06-21"
)

func testChain(fetchedAt time.Time) *interfaces.OptionChain {
	return &interfaces.OptionChain{
		Underlying: "AAPL",
		Expiration: testExpiration,
		FetchedAt:  fetchedAt,
		Contracts: []*interfaces.OptionContract{
			contract(interfaces.OptionTypeCall, 55, 0, 1.00, ptr(0.40), ptr(0.30)),
			contract(interfaces.OptionTypePut, 50, 2.00, 2.20, ptr(-0.55), ptr(0.45)),
			contract(interfaces.OptionTypeCall, 50, 1.00, 1.10, ptr(0.40), ptr(0.30)),
		},
	}
}

// testHistory yields an HV of about 0.42
func testHistory() []interfaces.PricePoint {
	return historyFromCloses(100, 102, 101, 105, 103)
}

func newTestScanService(provider *fakeProvider, store interfaces.SnapshotStore, storage interfaces.StorageService, now time.Time) *ScanService {
	svc := NewScanService(
		provider,
		provider,
		store,
		storage,
		NewMarketClock(),
		NewChainAligner(NewContractScorer(1), 0),
		ScanConfig{FetchTimeout: time.Second, LookbackDays: 30},
		quietLogger(),
	)
	svc.now = func() time.Time { return now }
	return svc
}

func TestScanService_LiveScanCachesChain(t *testing.T) {
	ctx := context.Background()
	fetchedAt := marketOpenAt.Add(-time.Second)
	provider := &fakeProvider{chain: testChain(fetchedAt), history: testHistory()}
	store := NewMemorySnapshotCache()
	storage := &fakeStorage{}
	svc := newTestScanService(provider, store, storage, marketOpenAt)

	result, err := svc.Scan(ctx, "aapl", testExpiration)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", result.Symbol)
	assert.Equal(t, interfaces.SessionOpen, result.Session)
	assert.Equal(t, interfaces.SourceLive, result.Source)
	assert.NotEmpty(t, result.ScanID)
	require.NotNil(t, result.FetchedAt)
	assert.True(t, fetchedAt.Equal(*result.FetchedAt))
	require.NotNil(t, result.HV)
	assert.InDelta(t, 0.4248874656319516, *result.HV, 1e-12)
	assert.Equal(t, 3, result.Contracts)
	assert.Equal(t, 3, result.Scored)

	require.Len(t, result.Rows, 2)
	assert.Equal(t, 50.0, result.Rows[0].Strike)
	assert.NotNil(t, result.Rows[0].Call)
	assert.NotNil(t, result.Rows[0].Put)
	assert.Equal(t, 55.0, result.Rows[1].Strike)
	assert.Nil(t, result.Rows[1].Put)

	cached, ok, err := store.Get(ctx, NewSnapshotKey("AAPL", testExpiration))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, fetchedAt.Equal(cached.FetchedAt))
	assert.Len(t, cached.Chain.Contracts, 3)

	require.Len(t, storage.snapshots, 1)
	require.Len(t, storage.scans, 1)
	assert.Equal(t, result.ScanID, storage.scans[0].ScanID)
	assert.Equal(t, interfaces.SourceLive, storage.scans[0].Source)
	assert.Equal(t, 2, storage.scans[0].Rows)
}

func TestScanService_LiveFailureFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	cachedAt := time.Date(2024, 6, 19, 15, 59, 0, 0, newYork)
	store := NewMemorySnapshotCache()
	require.NoError(t, store.Put(ctx, &interfaces.Snapshot{
		Key:       NewSnapshotKey("AAPL", testExpiration),
		Chain:     testChain(cachedAt),
		FetchedAt: cachedAt,
	}))

	provider := &fakeProvider{chainErr: errors.New("provider down"), history: testHistory()}
	svc := newTestScanService(provider, store, nil, marketOpenAt)

	result, err := svc.Scan(ctx, "AAPL", testExpiration)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceCache, result.Source)
	require.NotNil(t, result.FetchedAt)
	assert.True(t, cachedAt.Equal(*result.FetchedAt))
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, 1, provider.chainCalls)

	// the failed fetch must not disturb the cached entry
	cached, ok, err := store.Get(ctx, NewSnapshotKey("AAPL", testExpiration))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cachedAt.Equal(cached.FetchedAt))
}

func TestScanService_EmptyLiveChainFallsBack(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{
		chain:   &interfaces.OptionChain{Underlying: "AAPL", Expiration: testExpiration},
		history: testHistory(),
	}
	store := NewMemorySnapshotCache()
	svc := newTestScanService(provider, store, nil, marketOpenAt)

	result, err := svc.Scan(ctx, "AAPL", testExpiration)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceNone, result.Source)
	assert.Empty(t, result.Rows)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestScanService_NothingAvailable(t *testing.T) {
	storage := &fakeStorage{}
	provider := &fakeProvider{chainErr: errors.New("provider down")}
	svc := newTestScanService(provider, NewMemorySnapshotCache(), storage, marketOpenAt)

	result, err := svc.Scan(context.Background(), "AAPL", testExpiration)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceNone, result.Source)
	assert.NotNil(t, result.Rows)
	assert.Empty(t, result.Rows)
	assert.Nil(t, result.FetchedAt)
	assert.Equal(t, 0, provider.historyCalls)

	require.Len(t, storage.scans, 1)
	assert.Equal(t, interfaces.SourceNone, storage.scans[0].Source)
}

func TestScanService_ClosedMarketReadsCacheOnly(t *testing.T) {
	for _, now := range []time.Time{afterHoursAt, weekendAt} {
		ctx := context.Background()
		cachedAt := time.Date(2024, 6, 20, 15, 59, 0, 0, newYork)
		store := NewMemorySnapshotCache()
		require.NoError(t, store.Put(ctx, &interfaces.Snapshot{
			Key:       NewSnapshotKey("AAPL", testExpiration),
			Chain:     testChain(cachedAt),
			FetchedAt: cachedAt,
		}))

		provider := &fakeProvider{chain: testChain(now), history: testHistory()}
		svc := newTestScanService(provider, store, nil, now)

		result, err := svc.Scan(ctx, "AAPL", testExpiration)
		require.NoError(t, err)
		assert.NotEqual(t, interfaces.SessionOpen, result.Session)
		assert.Equal(t, interfaces.SourceCache, result.Source)
		assert.Len(t, result.Rows, 2)
		assert.Equal(t, 0, provider.chainCalls)
	}
}

func TestScanService_ClosedMarketWithoutCache(t *testing.T) {
	provider := &fakeProvider{chain: testChain(weekendAt), history: testHistory()}
	svc := newTestScanService(provider, NewMemorySnapshotCache(), nil, weekendAt)

	result, err := svc.Scan(context.Background(), "AAPL", testExpiration)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionClosed, result.Session)
	assert.Equal(t, interfaces.SourceNone, result.Source)
	assert.Empty(t, result.Rows)
	assert.Equal(t, 0, provider.chainCalls)
}

func TestScanService_SlowProviderTimesOut(t *testing.T) {
	ctx := context.Background()
	cachedAt := time.Date(2024, 6, 19, 15, 59, 0, 0, newYork)
	store := NewMemorySnapshotCache()
	require.NoError(t, store.Put(ctx, &interfaces.Snapshot{
		Key:       NewSnapshotKey("AAPL", testExpiration),
		Chain:     testChain(cachedAt),
		FetchedAt: cachedAt,
	}))

	provider := &fakeProvider{chain: testChain(marketOpenAt), chainDelay: 5 * time.Second, history: testHistory()}
	svc := newTestScanService(provider, store, nil, marketOpenAt)
	svc.config.FetchTimeout = 20 * time.Millisecond

	start := time.Now()
	result, err := svc.Scan(ctx, "AAPL", testExpiration)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, interfaces.SourceCache, result.Source)
}

func TestScanService_HistoryFailureLeavesRowsUnscored(t *testing.T) {
	provider := &fakeProvider{chain: testChain(marketOpenAt), historyErr: errors.New("no bars")}
	svc := newTestScanService(provider, NewMemorySnapshotCache(), nil, marketOpenAt)

	result, err := svc.Scan(context.Background(), "AAPL", testExpiration)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceLive, result.Source)
	assert.Nil(t, result.HV)
	assert.Equal(t, 0, result.Scored)
	require.Len(t, result.Rows, 2)
	for _, row := range result.Rows {
		if row.Call != nil {
			assert.Nil(t, row.Call.Score)
		}
		if row.Put != nil {
			assert.Nil(t, row.Put.Score)
		}
	}
}

func TestScanService_InvalidInput(t *testing.T) {
	provider := &fakeProvider{chain: testChain(marketOpenAt)}
	svc := newTestScanService(provider, NewMemorySnapshotCache(), nil, marketOpenAt)
	ctx := context.Background()

	_, err := svc.Scan(ctx, "  ", testExpiration)
	assert.ErrorIs(t, err, ErrEmptySymbol)

	_, err = svc.Scan(ctx, "AAPL", "06/21/2024")
	assert.ErrorIs(t, err, ErrInvalidExpiration)

	_, err = svc.HasCached(ctx, "", testExpiration)
	assert.ErrorIs(t, err, ErrEmptySymbol)

	_, err = svc.Expirations(ctx, "", 28)
	assert.ErrorIs(t, err, ErrEmptySymbol)

	assert.Equal(t, 0, provider.chainCalls)
}

func TestScanService_HasCached(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{chain: testChain(marketOpenAt), history: testHistory()}
	svc := newTestScanService(provider, NewMemorySnapshotCache(), nil, marketOpenAt)

	cached, err := svc.HasCached(ctx, "AAPL", testExpiration)
	require.NoError(t, err)
	assert.False(t, cached)

	_, err = svc.Scan(ctx, "AAPL", testExpiration)
	require.NoError(t, err)

	cached, err = svc.HasCached(ctx, "aapl", testExpiration)
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestScanService_SessionStatus(t *testing.T) {
	provider := &fakeProvider{}
	assert.Equal(t, interfaces.SessionOpen, newTestScanService(provider, NewMemorySnapshotCache(), nil, marketOpenAt).SessionStatus())
	assert.Equal(t, interfaces.SessionAfterHours, newTestScanService(provider, NewMemorySnapshotCache(), nil, afterHoursAt).SessionStatus())
	assert.Equal(t, interfaces.SessionClosed, newTestScanService(provider, NewMemorySnapshotCache(), nil, weekendAt).SessionStatus())
}

func TestScanService_Expirations(t *testing.T) {
	provider := &fakeProvider{expirations: []string{
		"2024-06-20", // today
		"2024-06-21",
		"2024-07-18", // 28 days out
		"2024-07-19",
		"not-a-date",
	}}
	svc := newTestScanService(provider, NewMemorySnapshotCache(), nil, marketOpenAt)
	ctx := context.Background()

	dates, err := svc.Expirations(ctx, "AAPL", 28)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-21", "2024-07-18"}, dates)

	all, err := svc.Expirations(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	provider.expErr = errors.New("provider down")
	_, err = svc.Expirations(ctx, "AAPL", 28)
	assert.Error(t, err)
}

func TestScanService_ExpirationsAcrossDST(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{expirations: []string{"2026-03-09", "2026-03-21"}}

	// spring-forward Sunday: Monday is one calendar day out
	svc := newTestScanService(provider, NewMemorySnapshotCache(), nil, time.Date(2026, 3, 8, 10, 0, 0, 0, newYork))
	dates, err := svc.Expirations(ctx, "AAPL", 28)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-09", "2026-03-21"}, dates)

	// 2026-03-21 is 29 calendar days after 2026-02-20 even though the DST
	// change shortens the elapsed time by an hour
	svc = newTestScanService(provider, NewMemorySnapshotCache(), nil, time.Date(2026, 2, 20, 10, 0, 0, 0, newYork))
	dates, err = svc.Expirations(ctx, "AAPL", 28)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-09"}, dates)

	// fall-back Sunday: Monday is still one day out
	provider.expirations = []string{"2026-11-02"}
	svc = newTestScanService(provider, NewMemorySnapshotCache(), nil, time.Date(2026, 11, 1, 10, 0, 0, 0, newYork))
	dates, err = svc.Expirations(ctx, "AAPL", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-11-02"}, dates)
}

func TestScanService_HydrateCache(t *testing.T) {
	ctx := context.Background()
	archivedAt := time.Date(2024, 6, 19, 15, 59, 0, 0, newYork)
	storage := &fakeStorage{snapshots: []*interfaces.Snapshot{
		{Key: NewSnapshotKey("AAPL", testExpiration), Chain: testChain(archivedAt), FetchedAt: archivedAt},
		{Key: NewSnapshotKey("SPY", testExpiration), Chain: testChain(archivedAt), FetchedAt: archivedAt},
	}}

	store := NewMemorySnapshotCache()
	newer := time.Date(2024, 6, 20, 11, 0, 0, 0, newYork)
	require.NoError(t, store.Put(ctx, &interfaces.Snapshot{
		Key:       NewSnapshotKey("SPY", testExpiration),
		Chain:     testChain(newer),
		FetchedAt: newer,
	}))

	svc := newTestScanService(&fakeProvider{}, store, storage, weekendAt)

	loaded, err := svc.HydrateCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	spy, ok, err := store.Get(ctx, NewSnapshotKey("SPY", testExpiration))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, newer.Equal(spy.FetchedAt), "existing cache entries win over the archive")

	cached, err := svc.HasCached(ctx, "AAPL", testExpiration)
	require.NoError(t, err)
	assert.True(t, cached)

	withoutStorage := newTestScanService(&fakeProvider{}, NewMemorySnapshotCache(), nil, weekendAt)
	loaded, err = withoutStorage.HydrateCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
}

func TestScanService_ArchiveFailureDoesNotFailScan(t *testing.T) {
	storage := &fakeStorage{saveErr: errors.New("disk full")}
	provider := &fakeProvider{chain: testChain(marketOpenAt), history: testHistory()}
	svc := newTestScanService(provider, NewMemorySnapshotCache(), storage, marketOpenAt)

	result, err := svc.Scan(context.Background(), "AAPL", testExpiration)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SourceLive, result.Source)
	assert.Len(t, storage.scans, 1)
}
