package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mariukha/CoopManager/pkg/metrics"
	"go.uber.org/zap"
)

// StatusError carries the HTTP status a handler wants for err.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// WithStatus annotates err with an HTTP status.
func WithStatus(status int, err error) error {
	return &StatusError{Status: status, Err: err}
}

var ErrNotFound = errors.New("not found")

// sqlStateStatus maps SQLSTATE codes to HTTP statuses. Codes not listed
// fall back by class in pgStatus.
var sqlStateStatus = map[string]int{
	"23505": http.StatusConflict,   // unique_violation
	"23503": http.StatusConflict,   // foreign_key_violation
	"23514": http.StatusBadRequest, // check_violation
	"23502": http.StatusBadRequest, // not_null_violation
	"22P02": http.StatusBadRequest, // invalid_text_representation
	"22007": http.StatusBadRequest, // invalid_datetime_format
	"22008": http.StatusBadRequest, // datetime_field_overflow
	"22003": http.StatusBadRequest, // numeric_value_out_of_range
	"22001": http.StatusBadRequest, // string_data_right_truncation
	"42703": http.StatusBadRequest, // undefined_column
	"42P01": http.StatusNotFound,   // undefined_table
	"42883": http.StatusNotFound,   // undefined_function
	"P0002": http.StatusNotFound,   // no_data_found
	"42501": http.StatusForbidden,  // insufficient_privilege
	// stored routines RAISE EXCEPTION to reject their input
	"P0001": http.StatusBadRequest, // raise_exception
}

func pgStatus(code string) int {
	if s, ok := sqlStateStatus[code]; ok {
		return s
	}
	switch {
	case len(code) >= 2 && code[:2] == "22":
		return http.StatusBadRequest
	case len(code) >= 2 && code[:2] == "23":
		return http.StatusConflict
	case len(code) >= 2 && code[:2] == "08":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrorBody converts err into a status and response body.
func ErrorBody(err error) (int, ErrorResponse) {
	var pgErr *pgconn.PgError
	var stErr *StatusError

	switch {
	case errors.As(err, &pgErr):
		status := pgStatus(pgErr.Code)
		return status, ErrorResponse{
			Code:     status,
			Message:  pgErr.Message,
			SQLState: pgErr.Code,
			Detail:   pgErr.Detail,
			Hint:     pgErr.Hint,
		}
	case errors.As(err, &stErr):
		return stErr.Status, ErrorResponse{Code: stErr.Status, Message: stErr.Err.Error()}
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: http.StatusNotFound, Message: "not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Code: http.StatusGatewayTimeout, Message: "database timeout"}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: http.StatusInternalServerError, Message: err.Error()}
}

// ServerError logs err and writes it as a JSON error response. PostgreSQL
// errors are reported with their SQLSTATE, detail and hint.
func ServerError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := ErrorBody(err)

	fields := []zap.Field{
		zap.String("req_id", RequestID(r)),
		zap.String("method", r.Method),
		zap.String("url", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if body.SQLState != "" {
		metrics.DBErrors.WithLabelValues(body.SQLState).Inc()
		fields = append(fields, zap.String("sqlstate", body.SQLState))
	}
	logger := Logger(r)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	JSON(w, status, body)
}

// Logger returns the request logger set by the logger middleware, or the
// global logger.
func Logger(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(LogEntryCtxKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}
