// Package periphery is the client side of the remote agent that runs compose
// commands on a server.
package periphery

import (
	"context"
	"errors"
	"fmt"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// Compose execution commands accepted by ComposeExecution.
const (
	CommandStart   = "start"
	CommandRestart = "restart"
	CommandPause   = "pause"
	CommandUnpause = "unpause"
	CommandStop    = "stop"
	CommandDown    = "down"
)

// StackRequest is the common payload for stack-scoped agent calls.
type StackRequest struct {
	Stack         domain.Stack            `json:"stack"`
	Services      []string                `json:"services,omitempty"`
	Repo          *domain.Repo            `json:"repo,omitempty"`
	GitToken      string                  `json:"git_token,omitempty"`
	RegistryToken string                  `json:"registry_token,omitempty"`
	Replacers     []domain.SecretReplacer `json:"replacers,omitempty"`
}

// ComposeUpRequest deploys a stack.
type ComposeUpRequest struct {
	StackRequest
	StopTime *int `json:"stop_time,omitempty"`
}

// ComposeUpResponse reports what the agent deployed.
type ComposeUpResponse struct {
	Logs          []domain.Log               `json:"logs"`
	Deployed      bool                       `json:"deployed"`
	Services      []domain.StackServiceNames `json:"services"`
	FileContents  []domain.FileContents      `json:"file_contents"`
	MissingFiles  []string                   `json:"missing_files"`
	RemoteErrors  []domain.FileContents      `json:"remote_errors"`
	ComposeConfig string                     `json:"compose_config,omitempty"`
	CommitHash    string                     `json:"commit_hash,omitempty"`
	CommitMessage string                     `json:"commit_message,omitempty"`
}

// ComposePullRequest pulls a stack's images.
type ComposePullRequest struct {
	StackRequest
}

// ComposePullResponse carries the pull logs.
type ComposePullResponse struct {
	Logs []domain.Log `json:"logs"`
}

// ComposeExecutionRequest runs a lifecycle command against a deployed project.
type ComposeExecutionRequest struct {
	Project       string   `json:"project"`
	Command       string   `json:"command"`
	Services      []string `json:"services,omitempty"`
	StopTime      *int     `json:"stop_time,omitempty"`
	RemoveOrphans bool     `json:"remove_orphans,omitempty"`
}

// ComposeExecutionResponse carries the command log.
type ComposeExecutionResponse struct {
	Log domain.Log `json:"log"`
}

// ComposeContentsRequest reads compose files from the host.
type ComposeContentsRequest struct {
	RunDirectory string   `json:"run_directory"`
	FilePaths    []string `json:"file_paths"`
}

// ComposeContentsResponse is the result of reading files on the host.
type ComposeContentsResponse struct {
	Contents []domain.FileContents `json:"contents"`
	Errors   []domain.FileContents `json:"errors"`
}

// ComposeProject summarises one compose project on the host.
type ComposeProject struct {
	Name        string   `json:"name"`
	Status      string   `json:"status,omitempty"`
	ComposeFile []string `json:"compose_files,omitempty"`
}

// Client talks to the agent on one server.
type Client interface {
	ComposeUp(ctx context.Context, req *ComposeUpRequest) (*ComposeUpResponse, error)
	ComposePull(ctx context.Context, req *ComposePullRequest) (*ComposePullResponse, error)
	ComposeExecution(ctx context.Context, req *ComposeExecutionRequest) (*ComposeExecutionResponse, error)
	GetComposeContentsOnHost(ctx context.Context, req *ComposeContentsRequest) (*ComposeContentsResponse, error)
	ListComposeProjects(ctx context.Context) ([]ComposeProject, error)
}

// ClientFactory builds a Client for a server.
type ClientFactory interface {
	For(server *domain.Server) (Client, error)
}

// Error is returned for every failed agent call. It matches domain.ErrRemoteAgent.
type Error struct {
	Server string
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("agent %s %s: status %d: %v", e.Server, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("agent %s %s: %v", e.Server, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is domain.ErrRemoteAgent.
func (e *Error) Is(target error) bool {
	return target == domain.ErrRemoteAgent
}

// ErrServerDisabled is returned by factories for disabled servers.
var ErrServerDisabled = errors.New("server is disabled")
