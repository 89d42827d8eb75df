package sdk

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
)

const (
	statisticsEndpoint = "/statistics"
	roundsEndpoint     = "/rounds"
	aggUpdatesEndpoint = "/updates"
)

func (sdk *repairSDK) ReportStatistics(stats fl.ClientRoundStatistics, codec fl.Codec) (bool, error) {
	if codec == nil {
		codec = fl.JSONCodec
	}
	reqURL, err := sdk.aggregator(statisticsEndpoint)
	if err != nil {
		return false, err
	}

	data, err := codec.Marshal(stats)
	if err != nil {
		return false, err
	}

	_, code, err := sdk.processRequest(http.MethodPost, reqURL, codec.ContentType(), data, http.StatusAccepted, http.StatusOK)
	if err != nil {
		return false, err
	}

	return code == http.StatusAccepted, nil
}

func (sdk *repairSDK) RoundStatus() (aggregator.RoundStatus, error) {
	reqURL, err := sdk.aggregator(roundsEndpoint + "/current")
	if err != nil {
		return aggregator.RoundStatus{}, err
	}

	return get[aggregator.RoundStatus](sdk, reqURL)
}

func (sdk *repairSDK) GetRound(round uint64) (fl.RoundState, error) {
	reqURL, err := sdk.aggregator(roundsEndpoint + "/" + strconv.FormatUint(round, 10))
	if err != nil {
		return fl.RoundState{}, err
	}

	return get[fl.RoundState](sdk, reqURL)
}

func (sdk *repairSDK) CloseRound() (fl.GlobalPolicyUpdate, error) {
	reqURL, err := sdk.aggregator(roundsEndpoint + "/close")
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}

	return sdk.postUpdate(reqURL, http.StatusCreated)
}

func (sdk *repairSDK) GlobalPolicy() (policy.Snapshot, error) {
	reqURL, err := sdk.aggregator(policyEndpoint)
	if err != nil {
		return policy.Snapshot{}, err
	}

	return get[policy.Snapshot](sdk, reqURL)
}

func (sdk *repairSDK) LatestUpdate() (fl.GlobalPolicyUpdate, error) {
	reqURL, err := sdk.aggregator(aggUpdatesEndpoint + "/latest")
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}

	return get[fl.GlobalPolicyUpdate](sdk, reqURL)
}

func (sdk *repairSDK) GetUpdate(round uint64) (fl.GlobalPolicyUpdate, error) {
	reqURL, err := sdk.aggregator(aggUpdatesEndpoint + "/" + strconv.FormatUint(round, 10))
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}

	return get[fl.GlobalPolicyUpdate](sdk, reqURL)
}

func (sdk *repairSDK) Redeliver() (fl.GlobalPolicyUpdate, error) {
	reqURL, err := sdk.aggregator(aggUpdatesEndpoint + "/redeliver")
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}

	return sdk.postUpdate(reqURL, http.StatusOK)
}

func (sdk *repairSDK) postUpdate(reqURL string, expected int) (fl.GlobalPolicyUpdate, error) {
	body, _, err := sdk.processRequest(http.MethodPost, reqURL, "", nil, expected)
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}

	var update fl.GlobalPolicyUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}

	return update, nil
}
