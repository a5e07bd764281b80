package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/service"
)

type executeFunc func(ctx context.Context, user *domain.User, params json.RawMessage) (any, *domain.Update, error)

// ExecuteHandler runs stack commands.
type ExecuteHandler struct {
	commands map[string]executeFunc
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(executor *service.StackExecutor) *ExecuteHandler {
	e := executor
	return &ExecuteHandler{commands: map[string]executeFunc{
		"DeployStack":          single(e.DeployStack),
		"DeployStackIfChanged": single(e.DeployStackIfChanged),
		"PullStack":            single(e.PullStack),
		"StartStack":           single(e.StartStack),
		"RestartStack":         single(e.RestartStack),
		"PauseStack":           single(e.PauseStack),
		"UnpauseStack":         single(e.UnpauseStack),
		"StopStack":            single(e.StopStack),
		"DestroyStack":         single(e.DestroyStack),

		"BatchDeployStack":          batch(e.BatchDeployStack),
		"BatchDeployStackIfChanged": batch(e.BatchDeployStackIfChanged),
		"BatchPullStack":            batch(e.BatchPullStack),
		"BatchStartStack":           batch(e.BatchStartStack),
		"BatchRestartStack":         batch(e.BatchRestartStack),
		"BatchPauseStack":           batch(e.BatchPauseStack),
		"BatchUnpauseStack":         batch(e.BatchUnpauseStack),
		"BatchStopStack":            batch(e.BatchStopStack),
		"BatchDestroyStack":         batch(e.BatchDestroyStack),
	}}
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: params are required", domain.ErrInvalidInput)
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func single[T any](run func(context.Context, *domain.User, T, *domain.Update) (*domain.Update, error)) executeFunc {
	return func(ctx context.Context, user *domain.User, params json.RawMessage) (any, *domain.Update, error) {
		var req T
		if err := decodeParams(params, &req); err != nil {
			return nil, nil, err
		}
		u, err := run(ctx, user, req, nil)
		return u, u, err
	}
}

func batch(run func(context.Context, *domain.User, domain.BatchRequest) (domain.BatchExecutionResponse, error)) executeFunc {
	return func(ctx context.Context, user *domain.User, params json.RawMessage) (any, *domain.Update, error) {
		var req domain.BatchRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, nil, err
		}
		resp, err := run(ctx, user, req)
		return resp, nil, err
	}
}

// Execute runs the command named in the request body.
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, ok := h.commands[req.Type]
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown execution type %q", req.Type))
		return
	}

	// An accepted command runs to completion even if the client goes away.
	// Agent calls are bounded by the client timeout.
	result, u, err := run(context.WithoutCancel(r.Context()), currentUser(r), req.Params)
	if err != nil {
		status, message := statusFor(err)
		apiErr := &domain.APIError{Code: status, Message: message}
		if classified(err) {
			apiErr.Details = err.Error()
		}
		if u != nil {
			apiErr.UpdateID = u.ID
		}
		respondJSON(w, status, apiErr)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
