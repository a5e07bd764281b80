package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bcnelson/stack-executor/internal/domain"
)

type stackRunner func(ctx context.Context, stack *domain.Stack) (*domain.Update, error)

// batch runs fn for every stack matching pattern. Each stack's outcome is
// recorded independently, in match order.
func (e *StackExecutor) batch(ctx context.Context, user *domain.User, op domain.Operation, pattern string, fn stackRunner) (domain.BatchExecutionResponse, error) {
	stacks, err := e.resolver.MatchStacks(ctx, pattern, user)
	if err != nil {
		return nil, err
	}

	out := make(domain.BatchExecutionResponse, len(stacks))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, stack := range stacks {
		i, stack := i, stack
		g.Go(func() error {
			u, err := fn(ctx, stack)
			item := domain.BatchExecutionResponseItem{
				Resource: stack.ID,
				Name:     stack.Name,
				Success:  err == nil,
				Update:   u,
			}
			if err != nil {
				item.Error = err.Error()
			}
			out[i] = item
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range out {
		if !item.Success {
			failed++
		}
	}
	e.logger.Info("batch complete",
		zap.String("operation", string(op)),
		zap.String("pattern", pattern),
		zap.Int("matched", len(out)),
		zap.Int("failed", failed),
	)
	return out, nil
}

// BatchDeployStack deploys every matching stack.
func (e *StackExecutor) BatchDeployStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpDeployStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.DeployStack(ctx, user, domain.DeployStack{Stack: s.ID}, nil)
	})
}

// BatchDeployStackIfChanged deploys every matching stack whose files changed.
func (e *StackExecutor) BatchDeployStackIfChanged(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpDeployStackIfChanged, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.DeployStackIfChanged(ctx, user, domain.DeployStackIfChanged{Stack: s.ID}, nil)
	})
}

// BatchPullStack pulls every matching stack.
func (e *StackExecutor) BatchPullStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpPullStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.PullStack(ctx, user, domain.PullStack{Stack: s.ID}, nil)
	})
}

// BatchStartStack starts every matching stack.
func (e *StackExecutor) BatchStartStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpStartStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.StartStack(ctx, user, domain.StartStack{Stack: s.ID}, nil)
	})
}

// BatchRestartStack restarts every matching stack.
func (e *StackExecutor) BatchRestartStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpRestartStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.RestartStack(ctx, user, domain.RestartStack{Stack: s.ID}, nil)
	})
}

// BatchPauseStack pauses every matching stack.
func (e *StackExecutor) BatchPauseStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpPauseStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.PauseStack(ctx, user, domain.PauseStack{Stack: s.ID}, nil)
	})
}

// BatchUnpauseStack unpauses every matching stack.
func (e *StackExecutor) BatchUnpauseStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpUnpauseStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.UnpauseStack(ctx, user, domain.UnpauseStack{Stack: s.ID}, nil)
	})
}

// BatchStopStack stops every matching stack.
func (e *StackExecutor) BatchStopStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpStopStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.StopStack(ctx, user, domain.StopStack{Stack: s.ID}, nil)
	})
}

// BatchDestroyStack destroys every matching stack.
func (e *StackExecutor) BatchDestroyStack(ctx context.Context, user *domain.User, req domain.BatchRequest) (domain.BatchExecutionResponse, error) {
	return e.batch(ctx, user, domain.OpDestroyStack, req.Pattern, func(ctx context.Context, s *domain.Stack) (*domain.Update, error) {
		return e.DestroyStack(ctx, user, domain.DestroyStack{Stack: s.ID}, nil)
	})
}
