// Package peripherytest provides an in-memory agent for tests.
package peripherytest

import (
	"context"
	"sync"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/periphery"
)

// Call records one request the fake received.
type Call struct {
	Op            string
	Project       string
	Command       string
	Services      []string
	StopTime      *int
	RemoveOrphans bool
	Stack         domain.Stack
	Repo          *domain.Repo
	GitToken      string
	RegistryToken string
	Replacers     []domain.SecretReplacer
}

// Client is a scriptable periphery.Client. The zero value answers every
// call successfully with empty responses.
type Client struct {
	mu sync.Mutex

	UpResponse       *periphery.ComposeUpResponse
	ContentsResponse *periphery.ComposeContentsResponse
	Projects         []periphery.ComposeProject

	// Err, when set, fails every call except ListComposeProjects.
	Err error
	// ListErr fails ListComposeProjects.
	ListErr error

	// Block, when non-nil, holds compose calls until it is closed. Started
	// receives a value as each held call begins.
	Block   chan struct{}
	Started chan struct{}

	calls []Call
}

func (c *Client) record(ctx context.Context, call Call) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	block, started := c.Block, c.Started
	c.mu.Unlock()

	if block != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.Err
}

// Calls returns a copy of the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsFor returns the recorded calls of one op.
func (c *Client) CallsFor(op string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func fromStackRequest(op string, r periphery.StackRequest) Call {
	return Call{
		Op:            op,
		Services:      r.Services,
		Stack:         r.Stack,
		Repo:          r.Repo,
		GitToken:      r.GitToken,
		RegistryToken: r.RegistryToken,
		Replacers:     r.Replacers,
	}
}

func (c *Client) ComposeUp(ctx context.Context, req *periphery.ComposeUpRequest) (*periphery.ComposeUpResponse, error) {
	call := fromStackRequest("up", req.StackRequest)
	call.StopTime = req.StopTime
	if err := c.record(ctx, call); err != nil {
		return nil, err
	}
	if c.UpResponse != nil {
		resp := *c.UpResponse
		return &resp, nil
	}
	return &periphery.ComposeUpResponse{
		Deployed: true,
		Logs:     []domain.Log{domain.SimpleLog("Compose Up", "deployed")},
	}, nil
}

func (c *Client) ComposePull(ctx context.Context, req *periphery.ComposePullRequest) (*periphery.ComposePullResponse, error) {
	if err := c.record(ctx, fromStackRequest("pull", req.StackRequest)); err != nil {
		return nil, err
	}
	return &periphery.ComposePullResponse{
		Logs: []domain.Log{domain.SimpleLog("Compose Pull", "pulled")},
	}, nil
}

func (c *Client) ComposeExecution(ctx context.Context, req *periphery.ComposeExecutionRequest) (*periphery.ComposeExecutionResponse, error) {
	err := c.record(ctx, Call{
		Op:            "execute",
		Project:       req.Project,
		Command:       req.Command,
		Services:      req.Services,
		StopTime:      req.StopTime,
		RemoveOrphans: req.RemoveOrphans,
	})
	if err != nil {
		return nil, err
	}
	return &periphery.ComposeExecutionResponse{
		Log: domain.SimpleLog("compose "+req.Command, "ok"),
	}, nil
}

func (c *Client) GetComposeContentsOnHost(ctx context.Context, req *periphery.ComposeContentsRequest) (*periphery.ComposeContentsResponse, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Op: "contents"})
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if c.ContentsResponse != nil {
		resp := *c.ContentsResponse
		return &resp, nil
	}
	return &periphery.ComposeContentsResponse{}, nil
}

func (c *Client) ListComposeProjects(ctx context.Context) ([]periphery.ComposeProject, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Op: "projects"})
	c.mu.Unlock()
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	return c.Projects, nil
}

// Factory hands out the same Client for every enabled server.
type Factory struct {
	Client *Client
}

// For returns f.Client, or an error for a disabled server.
func (f *Factory) For(server *domain.Server) (periphery.Client, error) {
	if !server.Enabled {
		return nil, &periphery.Error{Server: server.Name, Op: "connect", Err: periphery.ErrServerDisabled}
	}
	return f.Client, nil
}
