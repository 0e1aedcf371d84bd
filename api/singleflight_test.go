package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/valuation"
)

// gatedStore holds every registry listing until release is closed. It
// embeds the interface so the memory store's ReadView is not promoted.
type gatedStore struct {
	ledger.Store
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedStore(inner ledger.Store) *gatedStore {
	return &gatedStore{Store: inner, started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedStore) Items(ctx context.Context, f ledger.ItemFilter) ([]ledger.Item, error) {
	g.calls.Add(1)
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Store.Items(ctx, f)
}

func newGatedHandler(t *testing.T) (*Handler, *gatedStore) {
	t.Helper()
	ts := newTestServer(t).withReference(t)
	gated := newGatedStore(ts.store)
	engine := valuation.NewEngine(gated, nil)
	engine.Now = func() time.Time { return testToday }
	return NewHandler(engine, ts.store, "USD", nil), gated
}

type sharedResult struct {
	snaps  []valuation.Snapshot
	shared bool
	err    error
}

func computeAsync(h *Handler, ctx context.Context, q valuation.Query) <-chan sharedResult {
	out := make(chan sharedResult, 1)
	go func() {
		snaps, shared, err := h.computeShared(ctx, q)
		out <- sharedResult{snaps, shared, err}
	}()
	return out
}

func TestComputeShared_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	// GIVEN: a first caller whose computation is blocked in the store
	// WHEN: a second caller joins and the first one goes away
	// THEN: the first caller gets its own cancellation and the second one
	//       still receives the shared snapshots

	h, gated := newGatedHandler(t)
	q := valuation.Query{AsOf: ledger.DateOf(testToday)}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := computeAsync(h, leaderCtx, q)
	<-gated.started

	waiter := computeAsync(h, context.Background(), q)
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	got := <-leader
	assert.ErrorIs(t, got.err, context.Canceled)

	close(gated.release)
	res := <-waiter
	require.NoError(t, res.err)
	assert.True(t, res.shared)
	require.Len(t, res.snaps, 2)
	assert.Equal(t, ledger.SKU("A001"), res.snaps[0].Item.SKU)
	assert.Equal(t, int32(1), gated.calls.Load(), "one computation serves both callers")
}

func TestComputeShared_TimeoutBoundsComputation(t *testing.T) {
	h, gated := newGatedHandler(t)
	h.SharedTimeout = 10 * time.Millisecond
	t.Cleanup(func() { close(gated.release) })

	_, _, err := h.computeShared(context.Background(), valuation.Query{AsOf: ledger.DateOf(testToday)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter_RequestTimeoutBoundsSharedComputation(t *testing.T) {
	h, _ := newGatedHandler(t)
	NewRouter(h, RouterOptions{RequestTimeout: 5 * time.Second})

	assert.Equal(t, 5*time.Second, h.SharedTimeout)
}

func TestGetValuation_ClientGoneIs499(t *testing.T) {
	h, gated := newGatedHandler(t)
	t.Cleanup(func() { close(gated.release) })
	router := NewRouter(h, RouterOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/valuation?as_of=2025-01-20", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, statusClientClosedRequest, rec.Code)
	assert.Empty(t, rec.Body.String())
}
