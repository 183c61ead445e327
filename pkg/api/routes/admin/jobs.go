package admin

import (
	"context"
	"errors"
	"time"

	"github.com/valyala/fasthttp"

	"clipshare/internal/retention"
	"clipshare/pkg/api/router"
	"clipshare/pkg/state/logger"
)

// Retention runs a purge on demand.
type Retention interface {
	RunNow(ctx context.Context) (retention.Report, error)
}

type Jobs struct {
	Retention Retention
	// Timeout bounds one on-demand run.
	Timeout time.Duration
}

// RunRetentionCleanup purges expired sessions and old items now.
func (j *Jobs) RunRetentionCleanup(ctx *fasthttp.RequestCtx) {
	if j.Retention == nil {
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "retention not configured")
		return
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	rctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rep, err := j.Retention.RunNow(rctx)
	switch {
	case errors.Is(err, retention.ErrRunning):
		router.WriteJSONError(ctx, fasthttp.StatusConflict, err.Error())
		return
	case err != nil:
		logger.Error("retention_manual_run_failed", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	_ = router.WriteJSON(ctx, rep)
}
