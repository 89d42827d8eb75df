package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/api"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxStatisticsSize = 1 << 20

func MakeHandler(svc aggregator.Service, logger *slog.Logger, instanceID, version string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(api.LoggingErrorEncoder(logger, encodeError)),
	}

	// Statistics may be uploaded as JSON or CBOR; both land in Report.
	mux.Route("/statistics", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			reportEndpoint(svc),
			decodeStatisticsReq(""),
			api.EncodeResponse,
			opts...,
		), "report-statistics").ServeHTTP)
		r.Post("/cbor", otelhttp.NewHandler(kithttp.NewServer(
			reportEndpoint(svc),
			decodeStatisticsReq(fl.ContentTypeCBOR),
			api.EncodeResponse,
			opts...,
		), "report-statistics-cbor").ServeHTTP)
	})

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/current", otelhttp.NewHandler(kithttp.NewServer(
			roundStatusEndpoint(svc),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "round-status").ServeHTTP)
		r.Post("/close", otelhttp.NewHandler(kithttp.NewServer(
			closeRoundEndpoint(svc),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "close-round").ServeHTTP)
		r.Get("/{round}", otelhttp.NewHandler(kithttp.NewServer(
			getRoundEndpoint(svc),
			decodeRoundReq,
			api.EncodeResponse,
			opts...,
		), "get-round").ServeHTTP)
	})

	mux.Get("/policy", otelhttp.NewHandler(kithttp.NewServer(
		currentPolicyEndpoint(svc),
		kithttp.NopRequestDecoder,
		api.EncodeResponse,
		opts...,
	), "current-policy").ServeHTTP)

	mux.Route("/updates", func(r chi.Router) {
		r.Get("/latest", otelhttp.NewHandler(kithttp.NewServer(
			latestUpdateEndpoint(svc),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "latest-update").ServeHTTP)
		r.Post("/redeliver", otelhttp.NewHandler(kithttp.NewServer(
			redeliverEndpoint(svc),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "redeliver-update").ServeHTTP)
		r.Get("/{round}", otelhttp.NewHandler(kithttp.NewServer(
			getUpdateEndpoint(svc),
			decodeRoundReq,
			api.EncodeResponse,
			opts...,
		), "get-update").ServeHTTP)
	})

	mux.Get("/health", api.Health("aggregator", instanceID, version, func(ctx context.Context) (any, error) {
		return svc.RoundStatus(ctx)
	}))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func encodeError(ctx context.Context, err error, w http.ResponseWriter) {
	switch {
	case errors.Is(err, fl.ErrStaleRound):
		api.WriteError(w, err, http.StatusGone)
	case errors.Is(err, fl.ErrFutureRound):
		api.WriteError(w, err, http.StatusConflict)
	case errors.Is(err, fl.ErrUnexpectedClient):
		api.WriteError(w, err, http.StatusForbidden)
	case errors.Is(err, fl.ErrUnsupportedContentType):
		api.WriteError(w, err, http.StatusUnsupportedMediaType)
	case errors.Is(err, fl.ErrInvalidStatistics):
		api.WriteError(w, err, http.StatusBadRequest)
	default:
		api.EncodeError(ctx, err, w)
	}
}

// decodeStatisticsReq picks the codec from the Content-Type header unless
// contentType forces one.
func decodeStatisticsReq(contentType string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		ct := contentType
		if ct == "" {
			ct, _, _ = strings.Cut(r.Header.Get("Content-Type"), ";")
		}
		codec, err := fl.CodecFor(ct)
		if err != nil {
			return nil, errors.Join(api.ErrValidation, err)
		}

		data, err := io.ReadAll(io.LimitReader(r.Body, maxStatisticsSize))
		if err != nil {
			return nil, errors.Join(api.ErrValidation, err)
		}

		var req statisticsReq
		if err := codec.Unmarshal(data, &req.stats); err != nil {
			return nil, errors.Join(api.ErrValidation, fl.ErrInvalidStatistics, err)
		}

		return req, nil
	}
}

func decodeRoundReq(_ context.Context, r *http.Request) (any, error) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		return nil, errors.Join(api.ErrValidation, err)
	}

	return roundReq{round: round}, nil
}
