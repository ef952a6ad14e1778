package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainInfo identifies the settlement deployment the server fronts.
type ChainInfo struct {
	ChainID         uint64         `json:"chain_id"`
	Settlement      common.Address `json:"settlement"`
	Relayer         common.Address `json:"relayer"`
	DomainSeparator common.Hash    `json:"domain_separator"`
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	info   ChainInfo
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are run on every request
// and a failing one turns the response into a 503.
func NewHealthHandler(info ChainInfo, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{info: info, checks: checks, logger: logger}
}

// HealthCheck responds with the deployment and the state of each dependency.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"chain":        h.info,
		"dependencies": deps,
	})
}
