package api

import (
	"net/http"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/api"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
)

var (
	_ api.Response = (*taskResponse)(nil)
	_ api.Response = (*listTaskResponse)(nil)
	_ api.Response = (*resultResponse)(nil)
	_ api.Response = (*listResultResponse)(nil)
	_ api.Response = (*roundResponse)(nil)
	_ api.Response = (*policyResponse)(nil)
	_ api.Response = (*updateResponse)(nil)
)

type taskResponse struct {
	task.RepairTask
	created   bool
	withdrawn bool
}

func (t taskResponse) Code() int {
	if t.created {
		return http.StatusCreated
	}
	if t.withdrawn {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (t taskResponse) Headers() map[string]string {
	if t.created {
		return map[string]string{
			"Location": "/tasks/" + t.ID,
		}
	}

	return map[string]string{}
}

func (t taskResponse) Empty() bool {
	return t.withdrawn
}

type listTaskResponse struct {
	task.TaskPage
}

func (l listTaskResponse) Code() int {
	return http.StatusOK
}

func (l listTaskResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listTaskResponse) Empty() bool {
	return false
}

type resultResponse struct {
	scheduler.Result
}

func (r resultResponse) Code() int {
	return http.StatusOK
}

func (r resultResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r resultResponse) Empty() bool {
	return false
}

type listResultResponse struct {
	scheduler.ResultPage
}

func (l listResultResponse) Code() int {
	return http.StatusOK
}

func (l listResultResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listResultResponse) Empty() bool {
	return false
}

type roundResponse struct {
	coordinator.RoundReport
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

type updateResponse struct {
	Round   uint64 `json:"round"`
	Applied bool   `json:"applied"`
}

func (u updateResponse) Code() int {
	if u.Applied {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (u updateResponse) Headers() map[string]string {
	return map[string]string{}
}

func (u updateResponse) Empty() bool {
	return false
}
