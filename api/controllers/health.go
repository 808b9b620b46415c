package controllers

import (
	"context"
	"net/http"

	"github.com/swhoho/fortune-sub003/api/responses"
	"github.com/swhoho/fortune-sub003/pkg/config"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Fortune-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the backing stores so a broken instance drops out of
// rotation instead of accepting traffic it cannot serve.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Fortune-Env", cfg.App.Env)

		checks := map[string]pinger{
			"db":    dbP,
			"redis": redisP,
		}
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" not reachable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
