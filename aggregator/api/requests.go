package api

import (
	"errors"

	"github.com/absmach/fedrepair/pkg/fl"
)

var errMissingRound = errors.New("missing round number")

type statisticsReq struct {
	stats fl.ClientRoundStatistics
}

func (r *statisticsReq) validate() error {
	if r.stats.ClientID == "" {
		return fl.ErrInvalidStatistics
	}

	return nil
}

type roundReq struct {
	round uint64
}

func (r *roundReq) validate() error {
	if r.round == 0 {
		return errMissingRound
	}

	return nil
}
