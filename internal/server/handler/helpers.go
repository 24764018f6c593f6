package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/barterline/swapd/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v to the response. Encoding failures after the header
// has gone out cannot be reported to the client, so they are swallowed.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// parseListOpts reads limit/offset from the query string. Limit defaults to
// 50 and is capped at 500.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	return domain.ListOpts{
		Limit:  clampQueryInt(q.Get("limit"), 50, 1, 500),
		Offset: clampQueryInt(q.Get("offset"), 0, 0, 1<<30),
	}
}

func clampQueryInt(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// pathParam reads a named wildcard from the matched route pattern.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
