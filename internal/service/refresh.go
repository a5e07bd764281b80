package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bcnelson/stack-executor/internal/actionstate"
	"github.com/bcnelson/stack-executor/internal/compose"
	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/gitsource"
	"github.com/bcnelson/stack-executor/internal/periphery"
)

// RefreshStackCache recomputes the latest contents, services and commit of a
// stack from wherever its files live, and persists them.
func (e *StackExecutor) RefreshStackCache(ctx context.Context, user *domain.User, ref string) (*domain.Stack, error) {
	stack, err := e.resolver.GetStack(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := e.resolver.CheckPermission(ctx, user, domain.ResourceStack, stack.ID, domain.PermissionExecute); err != nil {
		return nil, err
	}
	return e.refresh(ctx, stack)
}

// ActionState returns the in-flight operation flags of a stack.
func (e *StackExecutor) ActionState(ctx context.Context, user *domain.User, ref string) (actionstate.StackActionState, error) {
	stack, err := e.resolver.GetStack(ctx, ref)
	if err != nil {
		return actionstate.StackActionState{}, err
	}
	if err := e.resolver.CheckPermission(ctx, user, domain.ResourceStack, stack.ID, domain.PermissionRead); err != nil {
		return actionstate.StackActionState{}, err
	}
	return e.registry.Get(stack.ID), nil
}

// latestFiles is what a refresh learns about a stack's current files.
type latestFiles struct {
	contents []domain.FileContents
	errors   []domain.FileContents
	missing  []string
	hash     string
	message  string
	services []domain.StackServiceNames
}

// refresh writes only the latest fields, leaving the deployed snapshot to
// the deploy that holds the stack's guard.
func (e *StackExecutor) refresh(ctx context.Context, stack *domain.Stack) (*domain.Stack, error) {
	var latest latestFiles

	switch {
	case stack.Config.FilesOnHost:
		latest.contents, latest.errors = e.contentsOnHost(ctx, stack)

	case stack.UsesRepo():
		repo, err := e.resolver.LinkedRepo(ctx, stack)
		if err != nil {
			return nil, err
		}
		token, err := e.creds.GitToken(stack, repo)
		if err != nil {
			return nil, err
		}
		res, err := e.fetchRepo(ctx, gitsource.SourceFor(stack, repo, token))
		if err != nil {
			return nil, fmt.Errorf("fetching files for stack %s: %w", stack.Name, err)
		}
		latest.contents = res.Files
		latest.errors = res.Errors
		latest.missing = res.Missing
		latest.hash = res.CommitHash
		latest.message = res.CommitMessage

	default:
		latest.contents = inlineContents(stack)
	}

	services, err := compose.ParseServices(ctx, stack.ProjectName(true), latest.contents)
	if err != nil {
		e.logger.Warn("keeping previous latest services",
			zap.String("stack", stack.Name),
			zap.Error(err),
		)
	} else {
		latest.services = services
	}

	if err := e.saveInfo(ctx, stack, func(info *domain.StackInfo) {
		info.RemoteContents = latest.contents
		info.RemoteErrors = latest.errors
		info.MissingFiles = latest.missing
		info.LatestHash = latest.hash
		info.LatestMessage = latest.message
		if len(latest.services) > 0 {
			info.LatestServices = latest.services
		}
	}); err != nil {
		return nil, err
	}
	return stack, nil
}

// contentsOnHost asks the agent for the stack's files. Failures are reported
// as remote errors rather than aborting the refresh.
func (e *StackExecutor) contentsOnHost(ctx context.Context, stack *domain.Stack) ([]domain.FileContents, []domain.FileContents) {
	hostError := func(err error) []domain.FileContents {
		return []domain.FileContents{{Path: stack.Config.RunDirectory, Contents: err.Error()}}
	}

	server, err := e.store.GetServer(ctx, stack.Config.ServerID)
	if err != nil {
		return nil, hostError(err)
	}
	client, err := e.clients.For(server)
	if err != nil {
		return nil, hostError(err)
	}
	resp, err := client.GetComposeContentsOnHost(ctx, &periphery.ComposeContentsRequest{
		RunDirectory: stack.Config.RunDirectory,
		FilePaths:    stack.ComposeFilePaths(),
	})
	if err != nil {
		return nil, hostError(err)
	}
	return resp.Contents, resp.Errors
}
