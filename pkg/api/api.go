package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	kithttp "github.com/go-kit/kit/transport/http"
)

const (
	OffsetKey = "offset"
	LimitKey  = "limit"
	DefOffset = 0
	DefLimit  = 100

	ContentType = "application/json"

	MaxLimitSize = 100
)

var (
	ErrValidation             = errors.New("request validation failed")
	ErrMissingID              = errors.New("missing entity id")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrLimitSize              = errors.New("invalid limit size")
)

// Response carries the HTTP status and headers for an endpoint result.
type Response interface {
	Code() int
	Headers() map[string]string
	Empty() bool
}

type errorRes struct {
	Error string `json:"error"`
}

func EncodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	w.Header().Set("Content-Type", ContentType)
	if ar, ok := response.(Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

// EncodeError writes err with the given status, or with a status derived
// from the shared error kinds when status is zero.
func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	WriteError(w, err, 0)
}

// LoggingErrorEncoder logs request failures before encoding them.
func LoggingErrorEncoder(logger *slog.Logger, enc kithttp.ErrorEncoder) kithttp.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		if StatusFor(err) >= http.StatusInternalServerError {
			logger.Error("Request failed", slog.Any("error", err))
		}
		enc(ctx, err, w)
	}
}

type healthRes struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	InstanceID string `json:"instance_id"`
	Version    string `json:"version"`
	Details    any    `json:"details,omitempty"`
}

// Health reports liveness. check may be nil; when it returns an error the
// handler answers 503 with the error as detail.
func Health(service, instanceID, version string, check func(context.Context) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := healthRes{Status: "pass", Service: service, InstanceID: instanceID, Version: version}
		status := http.StatusOK
		if check != nil {
			details, err := check(r.Context())
			res.Details = details
			if err != nil {
				res.Status = "fail"
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/health+json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(res)
	}
}

func WriteError(w http.ResponseWriter, err error, status int) {
	if status == 0 {
		status = StatusFor(err)
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(errorRes{Error: err.Error()})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrMissingID),
		errors.Is(err, pkgerrors.ErrEmptyKey),
		errors.Is(err, pkgerrors.ErrInvalidData),
		errors.Is(err, ErrLimitSize):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrEntityExists),
		errors.Is(err, pkgerrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ReadUintQuery parses a non-negative integer query parameter.
func ReadUintQuery(r *http.Request, key string, def uint64) (uint64, error) {
	vals := r.URL.Query()[key]
	if len(vals) == 0 || vals[0] == "" {
		return def, nil
	}

	v, err := strconv.ParseUint(vals[0], 10, 64)
	if err != nil {
		return 0, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return v, nil
}
