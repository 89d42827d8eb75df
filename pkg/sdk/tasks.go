package sdk

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
)

const (
	tasksEndpoint   = "/tasks"
	resultsEndpoint = "/results"
	drainEndpoint   = "/rounds/drain"
	policyEndpoint  = "/policy"
	updatesEndpoint = "/policy/updates"
)

func (sdk *repairSDK) SubmitTask(t task.RepairTask) (task.RepairTask, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return task.RepairTask{}, err
	}

	body, _, err := sdk.processRequest(http.MethodPost, sdk.coordinatorURL+tasksEndpoint, "", data, http.StatusCreated)
	if err != nil {
		return task.RepairTask{}, err
	}

	var created task.RepairTask
	if err := json.Unmarshal(body, &created); err != nil {
		return task.RepairTask{}, err
	}

	return created, nil
}

func (sdk *repairSDK) ListQueued(offset, limit uint64) (task.TaskPage, error) {
	return get[task.TaskPage](sdk, sdk.coordinatorURL+tasksEndpoint+pageQuery(offset, limit))
}

func (sdk *repairSDK) WithdrawTask(id string) error {
	reqURL := sdk.coordinatorURL + tasksEndpoint + "/" + url.PathEscape(id)
	_, _, err := sdk.processRequest(http.MethodDelete, reqURL, "", nil, http.StatusNoContent)

	return err
}

func (sdk *repairSDK) GetResult(id string) (scheduler.Result, error) {
	return get[scheduler.Result](sdk, sdk.coordinatorURL+tasksEndpoint+"/"+url.PathEscape(id)+"/result")
}

func (sdk *repairSDK) ListResults(offset, limit uint64) (scheduler.ResultPage, error) {
	return get[scheduler.ResultPage](sdk, sdk.coordinatorURL+resultsEndpoint+pageQuery(offset, limit))
}

func (sdk *repairSDK) DrainRound() (coordinator.RoundReport, error) {
	body, _, err := sdk.processRequest(http.MethodPost, sdk.coordinatorURL+drainEndpoint, "", nil, http.StatusOK)
	if err != nil {
		return coordinator.RoundReport{}, err
	}

	var report coordinator.RoundReport
	if err := json.Unmarshal(body, &report); err != nil {
		return coordinator.RoundReport{}, err
	}

	return report, nil
}

func (sdk *repairSDK) ClientPolicy() (policy.Snapshot, error) {
	return get[policy.Snapshot](sdk, sdk.coordinatorURL+policyEndpoint)
}

func (sdk *repairSDK) ApplyUpdate(update fl.GlobalPolicyUpdate) (bool, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return false, err
	}

	body, _, err := sdk.processRequest(http.MethodPost, sdk.coordinatorURL+updatesEndpoint, "", data, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return false, err
	}

	var res struct {
		Applied bool `json:"applied"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return false, err
	}

	return res.Applied, nil
}
