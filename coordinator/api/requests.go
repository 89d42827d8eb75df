package api

import (
	"errors"

	"github.com/absmach/fedrepair/pkg/api"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/task"
)

var (
	errMissingDefectClass = errors.New("missing defect class")
	errMissingLocation    = errors.New("missing defect location")
	errMissingRound       = errors.New("missing policy update round")
)

type submitReq struct {
	task.RepairTask `json:",inline"`
}

func (r *submitReq) validate() error {
	if r.DefectClass == "" {
		return errMissingDefectClass
	}
	if r.Location.File == "" {
		return errMissingLocation
	}

	return nil
}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return api.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	if e.limit == 0 || e.limit > api.MaxLimitSize {
		return api.ErrLimitSize
	}

	return nil
}

type updateReq struct {
	update fl.GlobalPolicyUpdate
}

func (u *updateReq) validate() error {
	if u.update.Round == 0 {
		return errMissingRound
	}

	return u.update.Policy.Validate()
}
