package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
)

const CTJSON string = "application/json"

var errNoAggregator = errors.New("aggregator url is not configured")

// Error is a non-success answer from a service.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected response code: %d", e.StatusCode)
	}

	return fmt.Sprintf("unexpected response code: %d: %s", e.StatusCode, e.Message)
}

type SDK interface {
	// SubmitTask queues a repair task on the coordinator.
	//
	// example:
	//  t, _ := sdk.SubmitTask(task.RepairTask{
	//    DefectClass: "null_deref",
	//    Location:    task.Location{File: "pkg/x.go", StartLine: 12},
	//    Description: "nil map write",
	//  })
	//  fmt.Println(t.ID)
	SubmitTask(t task.RepairTask) (task.RepairTask, error)

	// ListQueued lists tasks waiting for the next round.
	ListQueued(offset, limit uint64) (task.TaskPage, error)

	// WithdrawTask removes a queued task or cancels a running one.
	//
	// example:
	//  _ = sdk.WithdrawTask("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	WithdrawTask(id string) error

	// GetResult gets the final result of a task.
	GetResult(id string) (scheduler.Result, error)

	ListResults(offset, limit uint64) (scheduler.ResultPage, error)

	// DrainRound runs the queued tasks as one round and reports it.
	DrainRound() (coordinator.RoundReport, error)

	// ClientPolicy returns the policy the coordinator currently runs.
	ClientPolicy() (policy.Snapshot, error)

	// ApplyUpdate pushes a global policy update to the coordinator. It
	// reports whether the coordinator installed it.
	ApplyUpdate(update fl.GlobalPolicyUpdate) (bool, error)

	// ReportStatistics uploads one client's round statistics to the
	// aggregator, encoded with codec.
	ReportStatistics(stats fl.ClientRoundStatistics, codec fl.Codec) (bool, error)

	RoundStatus() (aggregator.RoundStatus, error)
	GetRound(round uint64) (fl.RoundState, error)

	// CloseRound closes the aggregator's open round now.
	CloseRound() (fl.GlobalPolicyUpdate, error)

	GlobalPolicy() (policy.Snapshot, error)
	LatestUpdate() (fl.GlobalPolicyUpdate, error)
	GetUpdate(round uint64) (fl.GlobalPolicyUpdate, error)
	Redeliver() (fl.GlobalPolicyUpdate, error)
}

type repairSDK struct {
	coordinatorURL string
	aggregatorURL  string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	AggregatorURL   string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &repairSDK{
		coordinatorURL: cfg.CoordinatorURL,
		aggregatorURL:  cfg.AggregatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *repairSDK) aggregator(path string) (string, error) {
	if sdk.aggregatorURL == "" {
		return "", errNoAggregator
	}

	return sdk.aggregatorURL + path, nil
}

func (sdk *repairSDK) processRequest(method, reqURL, contentType string, data []byte, expectedRespCodes ...int) ([]byte, int, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, 0, err
	}

	if contentType == "" {
		contentType = CTJSON
	}
	req.Header.Add("Content-Type", contentType)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, resp.StatusCode, err
	}

	for _, code := range expectedRespCodes {
		if resp.StatusCode == code {
			return body, resp.StatusCode, nil
		}
	}

	var res struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &res)

	return []byte{}, resp.StatusCode, &Error{StatusCode: resp.StatusCode, Message: res.Error}
}

func get[T any](sdk *repairSDK, reqURL string) (T, error) {
	var v T

	body, _, err := sdk.processRequest(http.MethodGet, reqURL, "", nil, http.StatusOK)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, err
	}

	return v, nil
}

func pageQuery(offset, limit uint64) string {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.FormatUint(offset, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.FormatUint(limit, 10))
	}
	if len(q) == 0 {
		return ""
	}

	return "?" + q.Encode()
}
