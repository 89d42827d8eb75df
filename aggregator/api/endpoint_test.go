package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/aggregator/api"
	"github.com/absmach/fedrepair/aggregator/mocks"
	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T) (*httptest.Server, *mocks.MockService) {
	t.Helper()

	svc := mocks.NewService(t)
	srv := httptest.NewServer(api.MakeHandler(svc, logger, "test-instance", "test"))
	t.Cleanup(srv.Close)

	return srv, svc
}

func do(t *testing.T, srv *httptest.Server, method, url, contentType string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+url, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	return res
}

func TestReportEndpoint(t *testing.T) {
	stats := fl.ClientRoundStatistics{ClientID: "a", Round: 2, TaskCount: 7}
	jsonBody, err := fl.JSONCodec.Marshal(stats)
	require.NoError(t, err)
	cborBody, err := fl.CBORCodec.Marshal(stats)
	require.NoError(t, err)

	cases := []struct {
		desc        string
		url         string
		contentType string
		body        []byte
		callSvc     bool
		accepted    bool
		svcErr      error
		status      int
	}{
		{desc: "json statistics", url: "/statistics", contentType: fl.ContentTypeJSON, body: jsonBody, callSvc: true, accepted: true, status: http.StatusAccepted},
		{desc: "cbor statistics by header", url: "/statistics", contentType: fl.ContentTypeCBOR, body: cborBody, callSvc: true, accepted: true, status: http.StatusAccepted},
		{desc: "cbor statistics endpoint", url: "/statistics/cbor", body: cborBody, callSvc: true, accepted: true, status: http.StatusAccepted},
		{desc: "duplicate statistics", url: "/statistics", contentType: fl.ContentTypeJSON, body: jsonBody, callSvc: true, status: http.StatusOK},
		{desc: "stale round", url: "/statistics", contentType: fl.ContentTypeJSON, body: jsonBody, callSvc: true, svcErr: fl.ErrStaleRound, status: http.StatusGone},
		{desc: "future round", url: "/statistics", contentType: fl.ContentTypeJSON, body: jsonBody, callSvc: true, svcErr: fl.ErrFutureRound, status: http.StatusConflict},
		{desc: "unexpected client", url: "/statistics", contentType: fl.ContentTypeJSON, body: jsonBody, callSvc: true, svcErr: fl.ErrUnexpectedClient, status: http.StatusForbidden},
		{desc: "malformed body", url: "/statistics", contentType: fl.ContentTypeJSON, body: []byte("{"), status: http.StatusBadRequest},
		{desc: "missing client id", url: "/statistics", contentType: fl.ContentTypeJSON, body: []byte(`{"round":2}`), status: http.StatusBadRequest},
		{desc: "unsupported content type", url: "/statistics", contentType: "text/csv", body: jsonBody, status: http.StatusUnsupportedMediaType},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			if tc.callSvc {
				svc.On("Report", mock.Anything, mock.MatchedBy(func(s fl.ClientRoundStatistics) bool {
					return s.ClientID == "a" && s.Round == 2 && s.TaskCount == 7
				})).Return(tc.accepted, tc.svcErr).Once()
			}

			res := do(t, srv, http.MethodPost, tc.url, tc.contentType, tc.body)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestRoundEndpoints(t *testing.T) {
	srv, svc := newServer(t)
	svc.On("RoundStatus", mock.Anything).Return(aggregator.RoundStatus{Round: 3, Reported: []string{"a"}, Missing: []string{"b"}}, nil).Once()
	svc.On("Round", mock.Anything, uint64(2)).Return(fl.RoundState{Round: 2, Completed: true}, nil).Once()
	svc.On("Round", mock.Anything, uint64(9)).Return(fl.RoundState{}, pkgerrors.ErrNotFound).Once()
	svc.On("CloseRound", mock.Anything).Return(fl.GlobalPolicyUpdate{Round: 4}, nil).Once()

	res := do(t, srv, http.MethodGet, "/rounds/current", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var status aggregator.RoundStatus
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.Equal(t, uint64(3), status.Round)
	assert.Equal(t, []string{"b"}, status.Missing)

	res = do(t, srv, http.MethodGet, "/rounds/2", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var state fl.RoundState
	require.NoError(t, json.NewDecoder(res.Body).Decode(&state))
	assert.True(t, state.Completed)

	res = do(t, srv, http.MethodGet, "/rounds/9", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = do(t, srv, http.MethodGet, "/rounds/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = do(t, srv, http.MethodGet, "/rounds/0", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = do(t, srv, http.MethodPost, "/rounds/close", "", nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var update fl.GlobalPolicyUpdate
	require.NoError(t, json.NewDecoder(res.Body).Decode(&update))
	assert.Equal(t, uint64(4), update.Round)
}

func TestUpdateEndpoints(t *testing.T) {
	cases := []struct {
		desc   string
		method string
		url    string
		setup  func(*mocks.MockService)
		status int
		round  uint64
	}{
		{
			desc:   "latest update",
			method: http.MethodGet,
			url:    "/updates/latest",
			setup: func(svc *mocks.MockService) {
				svc.On("LatestUpdate", mock.Anything).Return(fl.GlobalPolicyUpdate{Round: 5}, nil).Once()
			},
			status: http.StatusOK,
			round:  5,
		},
		{
			desc:   "no update issued yet",
			method: http.MethodGet,
			url:    "/updates/latest",
			setup: func(svc *mocks.MockService) {
				svc.On("LatestUpdate", mock.Anything).Return(fl.GlobalPolicyUpdate{}, pkgerrors.ErrNotFound).Once()
			},
			status: http.StatusNotFound,
		},
		{
			desc:   "update by round",
			method: http.MethodGet,
			url:    "/updates/3",
			setup: func(svc *mocks.MockService) {
				svc.On("Update", mock.Anything, uint64(3)).Return(fl.GlobalPolicyUpdate{Round: 3}, nil).Once()
			},
			status: http.StatusOK,
			round:  3,
		},
		{
			desc:   "redeliver",
			method: http.MethodPost,
			url:    "/updates/redeliver",
			setup: func(svc *mocks.MockService) {
				svc.On("Redeliver", mock.Anything).Return(fl.GlobalPolicyUpdate{Round: 5}, nil).Once()
			},
			status: http.StatusOK,
			round:  5,
		},
		{
			desc:   "redeliver without transport",
			method: http.MethodPost,
			url:    "/updates/redeliver",
			setup: func(svc *mocks.MockService) {
				svc.On("Redeliver", mock.Anything).Return(fl.GlobalPolicyUpdate{}, pkgerrors.ErrUnavailable).Once()
			},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, svc := newServer(t)
			tc.setup(svc)

			res := do(t, srv, tc.method, tc.url, "", nil)
			require.Equal(t, tc.status, res.StatusCode)
			if tc.round == 0 {
				return
			}

			var got fl.GlobalPolicyUpdate
			require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
			assert.Equal(t, tc.round, got.Round)
		})
	}
}

func TestPolicyEndpoint(t *testing.T) {
	srv, svc := newServer(t)
	svc.On("CurrentPolicy", mock.Anything).Return(policy.Snapshot{Round: 2, Policy: policy.Default()}, nil).Once()

	res := do(t, srv, http.MethodGet, "/policy", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got policy.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, uint64(2), got.Round)
}
