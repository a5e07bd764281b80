package domain

import "encoding/json"

// ExecuteRequest is the body of the execute endpoint. Type names the command
// (for example "DeployStack" or "BatchStopStack") and Params holds its request.
type ExecuteRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// DeployStack deploys (compose up) a stack, optionally limited to services.
type DeployStack struct {
	Stack    string   `json:"stack"`
	Services []string `json:"services,omitempty"`
	StopTime *int     `json:"stop_time,omitempty"`
}

// DeployStackIfChanged deploys a stack only if its remote contents differ from
// what was last deployed.
type DeployStackIfChanged struct {
	Stack    string `json:"stack"`
	StopTime *int   `json:"stop_time,omitempty"`
}

// PullStack pulls the images of a stack.
type PullStack struct {
	Stack    string   `json:"stack"`
	Services []string `json:"services,omitempty"`
}

// StartStack starts a stack's containers.
type StartStack struct {
	Stack    string   `json:"stack"`
	Services []string `json:"services,omitempty"`
}

// RestartStack restarts a stack's containers.
type RestartStack struct {
	Stack    string   `json:"stack"`
	Services []string `json:"services,omitempty"`
}

// PauseStack pauses a stack's containers.
type PauseStack struct {
	Stack    string   `json:"stack"`
	Services []string `json:"services,omitempty"`
}

// UnpauseStack unpauses a stack's containers.
type UnpauseStack struct {
	Stack    string   `json:"stack"`
	Services []string `json:"services,omitempty"`
}

// StopStack stops a stack's containers.
type StopStack struct {
	Stack    string   `json:"stack"`
	Services []string `json:"services,omitempty"`
	StopTime *int     `json:"stop_time,omitempty"`
}

// DestroyStack takes a stack down (compose down).
type DestroyStack struct {
	Stack         string   `json:"stack"`
	Services      []string `json:"services,omitempty"`
	RemoveOrphans bool     `json:"remove_orphans,omitempty"`
	StopTime      *int     `json:"stop_time,omitempty"`
}

// BatchRequest applies a command to every stack matching Pattern.
type BatchRequest struct {
	Pattern string `json:"pattern"`
}

// BatchExecutionResponseItem is the outcome for one matched resource.
// Resource is the resource id.
type BatchExecutionResponseItem struct {
	Resource string  `json:"resource"`
	Name     string  `json:"name"`
	Success  bool    `json:"success"`
	Update   *Update `json:"update,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// BatchExecutionResponse holds one item per matched resource, in match order.
type BatchExecutionResponse []BatchExecutionResponseItem
