package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/absmach/fedrepair/task"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	contentType     = "application/json"
	maxResponseSize = 4 << 20
)

// HTTPAgent posts the patch context as JSON to a generative backend and
// expects a Proposal back.
type HTTPAgent struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
}

var _ Agent = (*HTTPAgent)(nil)

func NewHTTPAgent(name, endpoint, token string) *HTTPAgent {
	return &HTTPAgent{
		name:     name,
		endpoint: endpoint,
		token:    token,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (h *HTTPAgent) Propose(ctx context.Context, pc task.PatchContext) (Proposal, error) {
	body, err := json.Marshal(pc)
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %w", ErrAdapterFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %w", ErrAdapterFailure, err)
	}
	req.Header.Set("Content-Type", contentType)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Proposal{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %w", ErrAdapterFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Proposal{}, fmt.Errorf("%w: %s returned status %d", ErrAdapterFailure, h.name, resp.StatusCode)
	}

	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return Proposal{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if p.Agent == "" {
		p.Agent = h.name
	}

	return p, nil
}
