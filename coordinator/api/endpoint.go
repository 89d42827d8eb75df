package api

import (
	"context"
	"errors"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/api"
	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/go-kit/kit/endpoint"
)

func submitEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(submitReq)
		if !ok {
			return taskResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, errors.Join(api.ErrValidation, err)
		}

		t, err := svc.Submit(ctx, req.RepairTask)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{
			RepairTask: t,
			created:    true,
		}, nil
	}
}

func listQueuedEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listTaskResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listTaskResponse{}, errors.Join(api.ErrValidation, err)
		}

		page, err := svc.ListQueued(ctx, req.offset, req.limit)
		if err != nil {
			return listTaskResponse{}, err
		}

		return listTaskResponse{
			TaskPage: page,
		}, nil
	}
}

func withdrawEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return taskResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, errors.Join(api.ErrValidation, err)
		}

		if err := svc.Withdraw(ctx, req.id); err != nil {
			return taskResponse{}, err
		}

		return taskResponse{
			withdrawn: true,
		}, nil
	}
}

func getResultEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return resultResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return resultResponse{}, errors.Join(api.ErrValidation, err)
		}

		res, err := svc.GetResult(ctx, req.id)
		if err != nil {
			return resultResponse{}, err
		}

		return resultResponse{
			Result: res,
		}, nil
	}
}

func listResultsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listResultResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listResultResponse{}, errors.Join(api.ErrValidation, err)
		}

		page, err := svc.ListResults(ctx, req.offset, req.limit)
		if err != nil {
			return listResultResponse{}, err
		}

		return listResultResponse{
			ResultPage: page,
		}, nil
	}
}

func drainRoundEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		report, err := svc.DrainRound(ctx)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{
			RoundReport: report,
		}, nil
	}
}

func policyEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		snap, err := svc.Policy(ctx)
		if err != nil {
			return policyResponse{}, err
		}

		return policyResponse{
			Snapshot: snap,
		}, nil
	}
}

func applyUpdateEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(updateReq)
		if !ok {
			return updateResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return updateResponse{}, errors.Join(api.ErrValidation, err)
		}

		applied, err := svc.ApplyUpdate(ctx, req.update)
		if err != nil {
			return updateResponse{}, err
		}

		return updateResponse{
			Round:   req.update.Round,
			Applied: applied,
		}, nil
	}
}
