package controllers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/swhoho/fortune-sub003/api/responses"
	subsvc "github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/config"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type expirationSweeper interface {
	SweepExpirations(ctx context.Context, now time.Time) (subsvc.SweepReport, error)
}

// CronSweepSubscriptions is the external scheduler entry into the expiry
// sweep. Sweeps are idempotent, so an overlapping trigger is safe.
func CronSweepSubscriptions(svc expirationSweeper, cfg config.CronConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		if cfg.SweepSecret == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweep secret not configured"))
			return
		}

		provided := r.Header.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.SweepSecret)) != 1 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid cron secret"))
			return
		}

		report, err := svc.SweepExpirations(r.Context(), time.Now())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(
				logg.WithFields(r.Context(), map[string]any{
					"scanned": report.Scanned,
					"expired": report.Expired,
					"failed":  report.Failed,
				}),
				"subscription sweep triggered over http",
			)
		}
		responses.WriteSuccess(w, report)
	}
}
