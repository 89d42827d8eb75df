package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/api"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxUpdateSize = 1 << 20

func MakeHandler(svc coordinator.Service, logger *slog.Logger, instanceID, version string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(api.LoggingErrorEncoder(logger, encodeError)),
	}

	mux.Route("/tasks", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			submitEndpoint(svc),
			decodeSubmitReq,
			api.EncodeResponse,
			opts...,
		), "submit-task").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listQueuedEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-queued").ServeHTTP)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
				withdrawEndpoint(svc),
				decodeEntityReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "withdraw-task").ServeHTTP)
			r.Get("/result", otelhttp.NewHandler(kithttp.NewServer(
				getResultEndpoint(svc),
				decodeEntityReq("taskID"),
				api.EncodeResponse,
				opts...,
			), "get-result").ServeHTTP)
		})
	})

	mux.Get("/results", otelhttp.NewHandler(kithttp.NewServer(
		listResultsEndpoint(svc),
		decodeListEntityReq,
		api.EncodeResponse,
		opts...,
	), "list-results").ServeHTTP)

	mux.Post("/rounds/drain", otelhttp.NewHandler(kithttp.NewServer(
		drainRoundEndpoint(svc),
		kithttp.NopRequestDecoder,
		api.EncodeResponse,
		opts...,
	), "drain-round").ServeHTTP)

	mux.Route("/policy", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			policyEndpoint(svc),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "get-policy").ServeHTTP)
		r.Post("/updates", otelhttp.NewHandler(kithttp.NewServer(
			applyUpdateEndpoint(svc),
			decodeUpdateReq,
			api.EncodeResponse,
			opts...,
		), "apply-update").ServeHTTP)
	})

	mux.Get("/health", api.Health("coordinator", instanceID, version, func(ctx context.Context) (any, error) {
		h, err := svc.Health(ctx)
		if err != nil {
			return nil, err
		}
		if !h.Healthy {
			return h, errors.New("no repair layer is available")
		}

		return h, nil
	}))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func encodeError(ctx context.Context, err error, w http.ResponseWriter) {
	switch {
	case errors.Is(err, coordinator.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		api.WriteError(w, err, http.StatusTooManyRequests)
	case errors.Is(err, coordinator.ErrTaskExists),
		errors.Is(err, coordinator.ErrAwaitingPolicy),
		errors.Is(err, coordinator.ErrRoundInProgress):
		api.WriteError(w, err, http.StatusConflict)
	case errors.Is(err, coordinator.ErrTaskNotFound):
		api.WriteError(w, err, http.StatusNotFound)
	case errors.Is(err, fl.ErrUnsupportedContentType):
		api.WriteError(w, err, http.StatusUnsupportedMediaType)
	case errors.Is(err, policy.ErrInvalidPolicy):
		api.WriteError(w, err, http.StatusBadRequest)
	default:
		api.EncodeError(ctx, err, w)
	}
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeSubmitReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(api.ErrValidation, api.ErrUnsupportedContentType)
	}

	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, api.ErrValidation)
	}

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := api.ReadUintQuery(r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(api.ErrValidation, err)
	}

	l, err := api.ReadUintQuery(r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(api.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}

// decodeUpdateReq accepts a policy update as JSON or CBOR.
func decodeUpdateReq(_ context.Context, r *http.Request) (any, error) {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	codec, err := fl.CodecFor(ct)
	if err != nil {
		return nil, errors.Join(api.ErrValidation, api.ErrUnsupportedContentType, err)
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
	if err != nil {
		return nil, errors.Join(api.ErrValidation, err)
	}

	var req updateReq
	if err := codec.Unmarshal(data, &req.update); err != nil {
		return nil, errors.Join(api.ErrValidation, err)
	}

	return req, nil
}
