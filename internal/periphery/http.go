package periphery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// HTTPClient calls the agent's JSON API. Every operation is a POST to
// <address>/compose/<op> authenticated with the server passkey.
type HTTPClient struct {
	server     string
	baseURL    string
	passkey    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for one server.
func NewHTTPClient(server *domain.Server, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		server:     server.Name,
		baseURL:    strings.TrimRight(server.Address, "/"),
		passkey:    server.Passkey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, op string, body, out any) error {
	wrap := func(status int, err error) error {
		return &Error{Server: c.server, Op: op, Status: status, Err: err}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return wrap(0, fmt.Errorf("encoding request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compose/"+op, bytes.NewReader(payload))
	if err != nil {
		return wrap(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.passkey != "" {
		req.Header.Set("Authorization", "Bearer "+c.passkey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrap(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrap(resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return wrap(resp.StatusCode, errors.New(e.Error))
		}
		return wrap(resp.StatusCode, errors.New(strings.TrimSpace(string(data))))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return wrap(resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func (c *HTTPClient) ComposeUp(ctx context.Context, req *ComposeUpRequest) (*ComposeUpResponse, error) {
	var resp ComposeUpResponse
	if err := c.do(ctx, "up", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ComposePull(ctx context.Context, req *ComposePullRequest) (*ComposePullResponse, error) {
	var resp ComposePullResponse
	if err := c.do(ctx, "pull", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ComposeExecution(ctx context.Context, req *ComposeExecutionRequest) (*ComposeExecutionResponse, error) {
	var resp ComposeExecutionResponse
	if err := c.do(ctx, "execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetComposeContentsOnHost(ctx context.Context, req *ComposeContentsRequest) (*ComposeContentsResponse, error) {
	var resp ComposeContentsResponse
	if err := c.do(ctx, "contents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ListComposeProjects(ctx context.Context) ([]ComposeProject, error) {
	var resp []ComposeProject
	if err := c.do(ctx, "projects", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// HTTPClientFactory builds HTTPClients with a shared timeout.
type HTTPClientFactory struct {
	Timeout time.Duration
}

// For returns a client for server, or an error if the server is disabled.
func (f *HTTPClientFactory) For(server *domain.Server) (Client, error) {
	if !server.Enabled {
		return nil, &Error{Server: server.Name, Op: "connect", Err: ErrServerDisabled}
	}
	return NewHTTPClient(server, f.Timeout), nil
}
