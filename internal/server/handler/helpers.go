package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
)

// maxBodyBytes bounds request bodies. Batches carry signatures and calldata
// so the limit is generous.
const maxBodyBytes = 4 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// revertedResponse is returned when the transaction ran but reverted.
type revertedResponse struct {
	Error   string         `json:"error"`
	Receipt domain.Receipt `json:"receipt"`
}

// writeServiceError maps a service error onto a status code. Reverted
// transactions carry their receipt so callers see the revert reason.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, rcpt domain.Receipt, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidBatch), errors.Is(err, domain.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "another batch is being settled")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrReverted):
		writeJSON(w, http.StatusUnprocessableEntity, revertedResponse{Error: rcpt.RevertReason, Receipt: rcpt})
	case errors.Is(err, domain.ErrContextDone):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeBody decodes a bounded JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathUID parses the {uid} path parameter, writing a 400 when it is not a
// 56-byte hex order UID.
func pathUID(w http.ResponseWriter, r *http.Request) (order.UID, bool) {
	uid, err := order.UIDFromHex(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order uid")
		return order.UID{}, false
	}
	return uid, true
}

var eventKinds = map[domain.EventKind]bool{
	domain.EventTrade:            true,
	domain.EventInteraction:      true,
	domain.EventSettlement:       true,
	domain.EventPreSignature:     true,
	domain.EventOrderInvalidated: true,
}

// parseEventFilter reads event query parameters.
func parseEventFilter(r *http.Request) (domain.EventFilter, error) {
	q := r.URL.Query()
	f := domain.EventFilter{ListOpts: parseListOpts(r)}

	if v := q.Get("kind"); v != "" {
		if !eventKinds[domain.EventKind(v)] {
			return f, fmt.Errorf("unknown event kind %q", v)
		}
		f.Kind = domain.EventKind(v)
	}
	if v := q.Get("subject"); v != "" {
		if !common.IsHexAddress(v) {
			return f, fmt.Errorf("invalid subject address %q", v)
		}
		addr := common.HexToAddress(v)
		f.Subject = &addr
	}
	if v := q.Get("order_uid"); v != "" {
		uid, err := order.UIDFromHex(v)
		if err != nil {
			return f, fmt.Errorf("invalid order uid %q", v)
		}
		f.OrderUID = &uid
	}
	if v := q.Get("from_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid from_block %q", v)
		}
		f.FromBlock = n
	}
	return f, nil
}
