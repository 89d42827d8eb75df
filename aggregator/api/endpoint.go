package api

import (
	"context"
	"errors"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/api"
	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/go-kit/kit/endpoint"
)

func reportEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(statisticsReq)
		if !ok {
			return reportResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return reportResponse{}, errors.Join(api.ErrValidation, err)
		}

		accepted, err := svc.Report(ctx, req.stats)
		if err != nil {
			return reportResponse{}, err
		}

		return reportResponse{
			ClientID: req.stats.ClientID,
			Round:    req.stats.Round,
			Accepted: accepted,
		}, nil
	}
}

func roundStatusEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		status, err := svc.RoundStatus(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{
			RoundStatus: status,
		}, nil
	}
}

func getRoundEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return roundResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundResponse{}, errors.Join(api.ErrValidation, err)
		}

		state, err := svc.Round(ctx, req.round)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{
			RoundState: state,
		}, nil
	}
}

func closeRoundEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		update, err := svc.CloseRound(ctx)
		if err != nil {
			return updateResponse{}, err
		}

		return updateResponse{
			GlobalPolicyUpdate: update,
			created:            true,
		}, nil
	}
}

func currentPolicyEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		snap, err := svc.CurrentPolicy(ctx)
		if err != nil {
			return policyResponse{}, err
		}

		return policyResponse{
			Snapshot: snap,
		}, nil
	}
}

func getUpdateEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return updateResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return updateResponse{}, errors.Join(api.ErrValidation, err)
		}

		update, err := svc.Update(ctx, req.round)
		if err != nil {
			return updateResponse{}, err
		}

		return updateResponse{
			GlobalPolicyUpdate: update,
		}, nil
	}
}

func latestUpdateEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		update, err := svc.LatestUpdate(ctx)
		if err != nil {
			return updateResponse{}, err
		}

		return updateResponse{
			GlobalPolicyUpdate: update,
		}, nil
	}
}

func redeliverEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		update, err := svc.Redeliver(ctx)
		if err != nil {
			return updateResponse{}, err
		}

		return updateResponse{
			GlobalPolicyUpdate: update,
		}, nil
	}
}
