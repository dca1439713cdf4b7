package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/bean-exchange/internal/apperr"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusOf maps an error code to its HTTP status.
func statusOf(code apperr.Code) int {
	switch code {
	case apperr.OK:
		return http.StatusOK
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Invalid:
		return http.StatusBadRequest
	case apperr.InsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.InsufficientHoldings, apperr.Duplicate, apperr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "err", err)
	}
}

// writeError writes a JSON error response. Internal errors are logged and
// their detail is hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := statusOf(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"rqID", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
		msg = "internal error"
	} else {
		slog.Debug("request rejected",
			"rqID", middleware.GetReqID(r.Context()),
			"code", code.String(),
			"err", err,
		)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code.String()})
}

// decode reads a JSON request body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.Invalid, "request body is required")
		}
		return apperr.Newf(apperr.Invalid, "invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Newf(apperr.Invalid, "%s must be an integer", key)
	}
	return n, nil
}

func queryDate(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.Invalid, "%s must be YYYY-MM-DD", key)
	}
	return t, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, apperr.Newf(apperr.Invalid, "%s must be true or false", key)
	}
	return &b, nil
}
