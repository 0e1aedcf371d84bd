package api

import (
	"context"
	"time"

	"github.com/warp/stock-valuation/valuation"
)

const defaultSharedTimeout = 30 * time.Second

// computeShared runs ComputeSnapshots once per distinct query among
// concurrent callers. A caller whose context ends stops waiting. The
// computation does not inherit any caller's cancellation, so the callers
// still waiting get their result; SharedTimeout bounds it instead.
func (h *Handler) computeShared(ctx context.Context, q valuation.Query) ([]valuation.Snapshot, bool, error) {
	resultChan := h.flight.DoChan(q.Key(), func() (interface{}, error) {
		timeout := h.SharedTimeout
		if timeout <= 0 {
			timeout = defaultSharedTimeout
		}
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return h.Engine.ComputeSnapshots(sharedCtx, q)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]valuation.Snapshot), res.Shared, nil
	}
}
