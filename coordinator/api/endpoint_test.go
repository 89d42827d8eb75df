package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/coordinator/api"
	"github.com/absmach/fedrepair/coordinator/mocks"
	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testRequest struct {
	method      string
	url         string
	contentType string
	body        io.Reader
}

func (tr testRequest) make(t *testing.T, srv *httptest.Server) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), tr.method, srv.URL+tr.url, tr.body)
	require.NoError(t, err)
	if tr.contentType != "" {
		req.Header.Set("Content-Type", tr.contentType)
	}

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	return res
}

func newServer(t *testing.T) (*httptest.Server, *mocks.MockService) {
	t.Helper()

	svc := mocks.NewService(t)
	srv := httptest.NewServer(api.MakeHandler(svc, logger, "test-instance", "test"))
	t.Cleanup(srv.Close)

	return srv, svc
}

const validTask = `{"defect_class":"logic","location":{"file":"main.go","start_line":3},"snapshot":{"code":"x"}}`

func TestSubmitEndpoint(t *testing.T) {
	cases := []struct {
		desc        string
		body        string
		contentType string
		svcRes      task.RepairTask
		svcErr      error
		callSvc     bool
		status      int
		location    string
	}{
		{
			desc:        "submit task",
			body:        validTask,
			contentType: "application/json",
			svcRes:      task.RepairTask{ID: "t1", DefectClass: "logic"},
			callSvc:     true,
			status:      http.StatusCreated,
			location:    "/tasks/t1",
		},
		{
			desc:        "submit with full queue",
			body:        validTask,
			contentType: "application/json",
			svcErr:      coordinator.ErrQueueFull,
			callSvc:     true,
			status:      http.StatusTooManyRequests,
		},
		{
			desc:        "submit duplicate",
			body:        validTask,
			contentType: "application/json",
			svcErr:      coordinator.ErrTaskExists,
			callSvc:     true,
			status:      http.StatusConflict,
		},
		{
			desc:        "submit without defect class",
			body:        `{"location":{"file":"main.go"}}`,
			contentType: "application/json",
			status:      http.StatusBadRequest,
		},
		{
			desc:        "submit malformed body",
			body:        `{`,
			contentType: "application/json",
			status:      http.StatusBadRequest,
		},
		{
			desc:        "submit with wrong content type",
			body:        validTask,
			contentType: "text/plain",
			status:      http.StatusUnsupportedMediaType,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			if tc.callSvc {
				svc.On("Submit", mock.Anything, mock.MatchedBy(func(rt task.RepairTask) bool {
					return rt.DefectClass == "logic" && rt.Location.File == "main.go"
				})).Return(tc.svcRes, tc.svcErr).Once()
			}

			res := testRequest{
				method:      http.MethodPost,
				url:         "/tasks/",
				contentType: tc.contentType,
				body:        strings.NewReader(tc.body),
			}.make(t, srv)

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.location != "" {
				assert.Equal(t, tc.location, res.Header.Get("Location"))
			}
		})
	}
}

func TestWithdrawEndpoint(t *testing.T) {
	cases := []struct {
		desc   string
		svcErr error
		status int
	}{
		{desc: "withdraw task", status: http.StatusNoContent},
		{desc: "withdraw unknown task", svcErr: coordinator.ErrTaskNotFound, status: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			svc.On("Withdraw", mock.Anything, "t1").Return(tc.svcErr).Once()

			res := testRequest{method: http.MethodDelete, url: "/tasks/t1"}.make(t, srv)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestGetResultEndpoint(t *testing.T) {
	srv, svc := newServer(t)
	svc.On("GetResult", mock.Anything, "t1").Return(scheduler.Result{
		TaskID: "t1",
		State:  scheduler.StateResolved,
		Reason: scheduler.ReasonThresholdMet,
	}, nil).Once()
	svc.On("GetResult", mock.Anything, "t2").Return(scheduler.Result{}, pkgerrors.ErrNotFound).Once()

	res := testRequest{method: http.MethodGet, url: "/tasks/t1/result"}.make(t, srv)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got scheduler.Result
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, scheduler.StateResolved, got.State)

	res = testRequest{method: http.MethodGet, url: "/tasks/t2/result"}.make(t, srv)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestListEndpoints(t *testing.T) {
	cases := []struct {
		desc   string
		url    string
		method string
		offset uint64
		limit  uint64
		status int
	}{
		{desc: "list queued with defaults", url: "/tasks/", method: "ListQueued", limit: 100, status: http.StatusOK},
		{desc: "list results page", url: "/results?offset=5&limit=10", method: "ListResults", offset: 5, limit: 10, status: http.StatusOK},
		{desc: "list with limit above maximum", url: "/results?limit=1000", status: http.StatusBadRequest},
		{desc: "list with invalid offset", url: "/tasks/?offset=abc", status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			switch tc.method {
			case "ListQueued":
				svc.On(tc.method, mock.Anything, tc.offset, tc.limit).Return(task.TaskPage{Offset: tc.offset, Limit: tc.limit}, nil).Once()
			case "ListResults":
				svc.On(tc.method, mock.Anything, tc.offset, tc.limit).Return(scheduler.ResultPage{Offset: tc.offset, Limit: tc.limit}, nil).Once()
			}

			res := testRequest{method: http.MethodGet, url: tc.url}.make(t, srv)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestDrainRoundEndpoint(t *testing.T) {
	cases := []struct {
		desc   string
		report coordinator.RoundReport
		err    error
		status int
	}{
		{desc: "drain round", report: coordinator.RoundReport{Round: 4, Launched: 2}, status: http.StatusOK},
		{desc: "drain while awaiting policy", err: coordinator.ErrAwaitingPolicy, status: http.StatusConflict},
		{desc: "drain while draining", err: coordinator.ErrRoundInProgress, status: http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			svc.On("DrainRound", mock.Anything).Return(tc.report, tc.err).Once()

			res := testRequest{method: http.MethodPost, url: "/rounds/drain"}.make(t, srv)
			require.Equal(t, tc.status, res.StatusCode)
			if tc.err != nil {
				return
			}

			var got coordinator.RoundReport
			require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
			assert.Equal(t, tc.report.Round, got.Round)
			assert.Equal(t, tc.report.Launched, got.Launched)
		})
	}
}

func TestApplyUpdateEndpoint(t *testing.T) {
	update := fl.GlobalPolicyUpdate{Round: 3, Policy: policy.Default(), Participants: []string{"a"}}
	jsonBody, err := fl.JSONCodec.Marshal(update)
	require.NoError(t, err)
	cborBody, err := fl.CBORCodec.Marshal(update)
	require.NoError(t, err)

	invalid := update
	invalid.Policy.Concurrency = 0
	invalidBody, err := fl.JSONCodec.Marshal(invalid)
	require.NoError(t, err)

	cases := []struct {
		desc        string
		body        []byte
		contentType string
		applied     bool
		callSvc     bool
		status      int
	}{
		{desc: "json update", body: jsonBody, contentType: fl.ContentTypeJSON, applied: true, callSvc: true, status: http.StatusAccepted},
		{desc: "cbor update", body: cborBody, contentType: fl.ContentTypeCBOR, applied: true, callSvc: true, status: http.StatusAccepted},
		{desc: "stale update", body: jsonBody, contentType: fl.ContentTypeJSON + "; charset=utf-8", callSvc: true, status: http.StatusOK},
		{desc: "invalid policy", body: invalidBody, contentType: fl.ContentTypeJSON, status: http.StatusBadRequest},
		{desc: "unsupported content type", body: jsonBody, contentType: "application/xml", status: http.StatusUnsupportedMediaType},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			if tc.callSvc {
				svc.On("ApplyUpdate", mock.Anything, mock.MatchedBy(func(u fl.GlobalPolicyUpdate) bool {
					return u.Round == 3 && u.Policy.Concurrency == policy.Default().Concurrency
				})).Return(tc.applied, nil).Once()
			}

			res := testRequest{
				method:      http.MethodPost,
				url:         "/policy/updates",
				contentType: tc.contentType,
				body:        strings.NewReader(string(tc.body)),
			}.make(t, srv)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestPolicyEndpoint(t *testing.T) {
	srv, svc := newServer(t)
	svc.On("Policy", mock.Anything).Return(policy.Snapshot{Round: 7, Policy: policy.Default()}, nil).Once()

	res := testRequest{method: http.MethodGet, url: "/policy/"}.make(t, srv)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got policy.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, uint64(7), got.Round)
	assert.Equal(t, policy.Default().Layers, got.Policy.Layers)
}

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		desc   string
		health coordinator.Health
		status int
	}{
		{desc: "healthy", health: coordinator.Health{Healthy: true, Layers: map[string]string{"L1": "closed"}}, status: http.StatusOK},
		{desc: "every circuit open", health: coordinator.Health{Layers: map[string]string{"L1": "open"}}, status: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			svc.On("Health", mock.Anything).Return(tc.health, nil).Once()

			res := testRequest{method: http.MethodGet, url: "/health"}.make(t, srv)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}
