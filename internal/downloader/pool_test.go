package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/models"
	"crxharvest/pkg/retry"
	"crxharvest/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher serves archive bytes per id and counts calls
type mockFetcher struct {
	mu       sync.Mutex
	failures map[string]error
	// flaky fails the first n calls for an id with a 503
	flaky map[string]int
	calls map[string]int
	total atomic.Int32
	delay time.Duration
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		failures: make(map[string]error),
		flaky:    make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (m *mockFetcher) FetchArchive(ctx context.Context, id string) ([]byte, error) {
	m.total.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, errs.Transport("download archive", 0, ctx.Err()).WithID(id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[id]++
	if err, ok := m.failures[id]; ok {
		return nil, err
	}
	if m.calls[id] <= m.flaky[id] {
		return nil, errs.Transport("download archive", http.StatusServiceUnavailable, errors.New("busy")).WithID(id)
	}
	return []byte("Cr24 archive " + id), nil
}

func (m *mockFetcher) callsFor(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// brokenStorage fails every save
type brokenStorage struct{}

func (brokenStorage) Exists(string) bool { return false }
func (brokenStorage) Save(id string, _ io.Reader) (int64, error) {
	return 0, errs.Storage("write archive", errors.New("no space left on device")).WithID(id)
}

func records(ids ...string) []models.CatalogRecord {
	out := make([]models.CatalogRecord, len(ids))
	for i, id := range ids {
		out[i] = models.CatalogRecord{ID: id}
	}
	return out
}

func newStorage(t *testing.T) *storage.Manager {
	t.Helper()
	m, err := storage.NewManager(filepath.Join(t.TempDir(), "extension"))
	require.NoError(t, err)
	return m
}

func TestProcessAllDownloadsMissing(t *testing.T) {
	fetcher := newMockFetcher()
	store := newStorage(t)
	d := New(fetcher, store, Options{Workers: 1, Logger: logger.NewNopLogger()})

	summary, err := d.ProcessAll(context.Background(), records("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 3, Downloaded: 3, Bytes: summary.Bytes}, summary)
	assert.Positive(t, summary.Bytes)
	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, store.Exists(id), id)
	}
}

func TestProcessAllSecondPassMakesNoNetworkCalls(t *testing.T) {
	fetcher := newMockFetcher()
	store := newStorage(t)
	d := New(fetcher, store, Options{Workers: 2, Logger: logger.NewNopLogger()})

	_, err := d.ProcessAll(context.Background(), records("a", "b"))
	require.NoError(t, err)
	before := fetcher.total.Load()

	summary, err := d.ProcessAll(context.Background(), records("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, before, fetcher.total.Load(), "existing archives must not be fetched again")
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Downloaded)
}

func TestProcessAllIsolatesTransportFailures(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.failures["b"] = errs.Transport("download archive", http.StatusNotFound, errors.New("not found")).WithID("b")
	store := newStorage(t)
	log := logger.NewTestLogger()
	d := New(fetcher, store, Options{Workers: 1, Logger: log})

	summary, err := d.ProcessAll(context.Background(), records("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, store.Exists("a"))
	assert.False(t, store.Exists("b"))
	assert.True(t, store.Exists("c"))

	warnings := log.WarningsFor("b")
	require.Len(t, warnings, 1)
	assert.Equal(t, "download", warnings[0].Fields["stage"])
	assert.Error(t, warnings[0].Error)
}

func TestProcessAllStorageFailureStopsBatch(t *testing.T) {
	fetcher := newMockFetcher()
	d := New(fetcher, brokenStorage{}, Options{Workers: 1, Logger: logger.NewNopLogger()})

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%02d", i)
	}
	summary, err := d.ProcessAll(context.Background(), records(ids...))
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeStorage))
	assert.Less(t, int(fetcher.total.Load()), len(ids), "batch must stop after the storage failure")
	assert.Zero(t, summary.Downloaded)
}

func TestProcessAllRefusesUnsafeIDs(t *testing.T) {
	fetcher := newMockFetcher()
	root := t.TempDir()
	store, err := storage.NewManager(filepath.Join(root, "data", "extension"))
	require.NoError(t, err)
	d := New(fetcher, store, Options{Workers: 1, Logger: logger.NewNopLogger()})

	summary, err := d.ProcessAll(context.Background(), records("a", "../../escaped", "b"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, fetcher.callsFor("../../escaped"))
	assert.NoFileExists(t, filepath.Join(root, "escaped.crx"))
}

func TestProcessAllDeduplicatesAndSkipsEmptyIDs(t *testing.T) {
	fetcher := newMockFetcher()
	store := newStorage(t)
	d := New(fetcher, store, Options{Workers: 4, Logger: logger.NewNopLogger()})

	summary, err := d.ProcessAll(context.Background(), records("a", "", "a", "b", "b"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, fetcher.callsFor("a"))
	assert.Equal(t, 1, fetcher.callsFor("b"))
}

func TestProcessAllRetriesTransientFailures(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.flaky["a"] = 2
	store := newStorage(t)
	d := New(fetcher, store, Options{
		Workers:     1,
		MaxAttempts: 3,
		Backoff:     retry.ConstantBackoff{Delay: time.Millisecond},
		Logger:      logger.NewNopLogger(),
	})

	summary, err := d.ProcessAll(context.Background(), records("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 3, fetcher.callsFor("a"))
}

func TestProcessAllSingleAttemptByDefault(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.flaky["a"] = 1
	d := New(fetcher, newStorage(t), Options{Logger: logger.NewNopLogger()})

	summary, err := d.ProcessAll(context.Background(), records("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, fetcher.callsFor("a"))
}

func TestProcessAllDelaysOnlyAfterSuccess(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.failures["a"] = errs.Transport("download archive", http.StatusNotFound, nil).WithID("a")
	fetcher.failures["b"] = errs.Transport("download archive", http.StatusNotFound, nil).WithID("b")
	d := New(fetcher, newStorage(t), Options{
		Workers:  1,
		DelayMin: time.Hour,
		DelayMax: time.Hour,
		Logger:   logger.NewNopLogger(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, err := d.ProcessAll(context.Background(), records("a", "b"))
		assert.NoError(t, err)
		assert.Equal(t, 2, summary.Failed)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("failed downloads must not trigger the post-download delay")
	}
}

func TestProcessAllCancelled(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.delay = 50 * time.Millisecond
	d := New(fetcher, newStorage(t), Options{Workers: 2, Logger: logger.NewNopLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%02d", i)
	}
	_, err := d.ProcessAll(ctx, records(ids...))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, int(fetcher.total.Load()), len(ids))
}

func TestProcessAllFreeSpacePreflight(t *testing.T) {
	fetcher := newMockFetcher()
	d := New(fetcher, newStorage(t), Options{
		MinFreeBytes: ^uint64(0),
		Logger:       logger.NewNopLogger(),
	})

	_, err := d.ProcessAll(context.Background(), records("a"))
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeStorage))
	assert.Zero(t, fetcher.total.Load())
}

func TestWorkerPoolSkipsExisting(t *testing.T) {
	store := newStorage(t)
	_, err := store.Save("a", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	fetcher := newMockFetcher()
	pool := NewWorkerPool(context.Background(), 1, fetcher, store, nil, nil, logger.NewNopLogger())
	pool.Start()
	go func() {
		defer pool.Stop()
		_ = pool.Submit(Job{ID: "a"})
		_ = pool.Submit(Job{ID: "b"})
	}()

	statuses := map[string]Status{}
	for r := range pool.Results() {
		statuses[r.Job.ID] = r.Status
	}
	assert.Equal(t, StatusSkipped, statuses["a"])
	assert.Equal(t, StatusDownloaded, statuses["b"])
	assert.Equal(t, "downloaded", StatusDownloaded.String())
	assert.Zero(t, fetcher.callsFor("a"))
}
