package api

import (
	"net/http"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/api"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
)

var (
	_ api.Response = (*reportResponse)(nil)
	_ api.Response = (*statusResponse)(nil)
	_ api.Response = (*roundResponse)(nil)
	_ api.Response = (*updateResponse)(nil)
	_ api.Response = (*policyResponse)(nil)
)

type reportResponse struct {
	ClientID string `json:"client_id"`
	Round    uint64 `json:"round"`
	Accepted bool   `json:"accepted"`
}

func (r reportResponse) Code() int {
	if r.Accepted {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (r reportResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r reportResponse) Empty() bool {
	return false
}

type statusResponse struct {
	aggregator.RoundStatus
}

func (s statusResponse) Code() int {
	return http.StatusOK
}

func (s statusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s statusResponse) Empty() bool {
	return false
}

type roundResponse struct {
	fl.RoundState
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type updateResponse struct {
	fl.GlobalPolicyUpdate
	created bool
}

func (u updateResponse) Code() int {
	if u.created {
		return http.StatusCreated
	}

	return http.StatusOK
}

func (u updateResponse) Headers() map[string]string {
	return map[string]string{}
}

func (u updateResponse) Empty() bool {
	return false
}

type policyResponse struct {
	policy.Snapshot
}

func (p policyResponse) Code() int {
	return http.StatusOK
}

func (p policyResponse) Headers() map[string]string {
	return map[string]string{}
}

func (p policyResponse) Empty() bool {
	return false
}
