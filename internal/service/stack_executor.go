package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bcnelson/stack-executor/internal/actionstate"
	"github.com/bcnelson/stack-executor/internal/changes"
	"github.com/bcnelson/stack-executor/internal/credentials"
	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/gitsource"
	"github.com/bcnelson/stack-executor/internal/interpolate"
	"github.com/bcnelson/stack-executor/internal/logging"
	"github.com/bcnelson/stack-executor/internal/monitor"
	"github.com/bcnelson/stack-executor/internal/periphery"
	"github.com/bcnelson/stack-executor/internal/resource"
	"github.com/bcnelson/stack-executor/internal/secrets"
	"github.com/bcnelson/stack-executor/internal/storage"
	"github.com/bcnelson/stack-executor/internal/update"
)

// Update log stages written by the executor.
const (
	StageServices    = "Service/s"
	StageCredentials = "Get credentials"
	StageInterpolate = "Interpolate"
	StageConnect     = "Connect to agent"
	StageStackInfo   = "refresh stack info"
	StageServerCache = "refresh server cache"
	StageDiff        = "Diff compose files"
)

// Deps are the collaborators of a StackExecutor.
type Deps struct {
	Store       storage.Storage
	Resolver    *resource.Resolver
	Registry    *actionstate.Registry
	Updates     *update.Manager
	Clients     periphery.ClientFactory
	Credentials *credentials.Provider
	Secrets     *secrets.Source
	Monitor     *monitor.Cache
	// FetchRepo reads a repo-backed stack's files. Defaults to gitsource.Fetch.
	FetchRepo func(ctx context.Context, src gitsource.Source) (*gitsource.Result, error)
	// Parallelism bounds how many stacks a batch runs at once.
	Parallelism int
	Logger      *zap.Logger
}

// StackExecutor runs lifecycle commands against stacks.
type StackExecutor struct {
	store       storage.Storage
	resolver    *resource.Resolver
	registry    *actionstate.Registry
	updates     *update.Manager
	clients     periphery.ClientFactory
	creds       *credentials.Provider
	secrets     *secrets.Source
	monitor     *monitor.Cache
	fetchRepo   func(ctx context.Context, src gitsource.Source) (*gitsource.Result, error)
	parallelism int
	logger      *zap.Logger
}

// NewStackExecutor creates a StackExecutor.
func NewStackExecutor(d Deps) *StackExecutor {
	parallelism := d.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	fetchRepo := d.FetchRepo
	if fetchRepo == nil {
		fetchRepo = gitsource.Fetch
	}
	return &StackExecutor{
		store:       d.Store,
		resolver:    d.Resolver,
		registry:    d.Registry,
		updates:     d.Updates,
		clients:     d.Clients,
		creds:       d.Credentials,
		secrets:     d.Secrets,
		monitor:     d.Monitor,
		fetchRepo:   fetchRepo,
		parallelism: parallelism,
		logger:      logging.OrNop(d.Logger),
	}
}

type remoteOp int

const (
	remoteUp remoteOp = iota
	remotePull
	remoteExecute
)

type foldKind int

const (
	foldNone foldKind = iota
	foldDeploy
)

// commandSpec is the per-command behaviour of execute.
type commandSpec struct {
	claim  func(*actionstate.StackActionState)
	remote remoteOp
	// command is the compose command for remoteExecute.
	command string
	fold    foldKind
}

// withSource reports whether the command ships the stack's files, and so
// needs the linked repo, credentials and interpolation.
func (c commandSpec) withSource() bool {
	return c.remote != remoteExecute
}

var commands = map[domain.Operation]commandSpec{
	domain.OpDeployStack: {
		claim:  func(s *actionstate.StackActionState) { s.Deploying = true },
		remote: remoteUp,
		fold:   foldDeploy,
	},
	domain.OpPullStack: {
		claim:  func(s *actionstate.StackActionState) { s.Pulling = true },
		remote: remotePull,
	},
	domain.OpStartStack: {
		claim:   func(s *actionstate.StackActionState) { s.Starting = true },
		remote:  remoteExecute,
		command: periphery.CommandStart,
	},
	domain.OpRestartStack: {
		claim:   func(s *actionstate.StackActionState) { s.Restarting = true },
		remote:  remoteExecute,
		command: periphery.CommandRestart,
	},
	domain.OpPauseStack: {
		claim:   func(s *actionstate.StackActionState) { s.Pausing = true },
		remote:  remoteExecute,
		command: periphery.CommandPause,
	},
	domain.OpUnpauseStack: {
		claim:   func(s *actionstate.StackActionState) { s.Unpausing = true },
		remote:  remoteExecute,
		command: periphery.CommandUnpause,
	},
	domain.OpStopStack: {
		claim:   func(s *actionstate.StackActionState) { s.Stopping = true },
		remote:  remoteExecute,
		command: periphery.CommandStop,
	},
	domain.OpDestroyStack: {
		claim:   func(s *actionstate.StackActionState) { s.Destroying = true },
		remote:  remoteExecute,
		command: periphery.CommandDown,
	},
}

// invocation carries the parameters of one command.
type invocation struct {
	op            domain.Operation
	ref           string
	services      []string
	stopTime      *int
	removeOrphans bool
}

// DeployStack runs compose up for a stack. u may be nil, in which case a new
// Update is created.
func (e *StackExecutor) DeployStack(ctx context.Context, user *domain.User, req domain.DeployStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{
		op:       domain.OpDeployStack,
		ref:      req.Stack,
		services: req.Services,
		stopTime: req.StopTime,
	}, u)
}

// PullStack pulls a stack's images.
func (e *StackExecutor) PullStack(ctx context.Context, user *domain.User, req domain.PullStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{op: domain.OpPullStack, ref: req.Stack, services: req.Services}, u)
}

// StartStack starts a stack's containers.
func (e *StackExecutor) StartStack(ctx context.Context, user *domain.User, req domain.StartStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{op: domain.OpStartStack, ref: req.Stack, services: req.Services}, u)
}

// RestartStack restarts a stack's containers.
func (e *StackExecutor) RestartStack(ctx context.Context, user *domain.User, req domain.RestartStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{op: domain.OpRestartStack, ref: req.Stack, services: req.Services}, u)
}

// PauseStack pauses a stack's containers.
func (e *StackExecutor) PauseStack(ctx context.Context, user *domain.User, req domain.PauseStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{op: domain.OpPauseStack, ref: req.Stack, services: req.Services}, u)
}

// UnpauseStack unpauses a stack's containers.
func (e *StackExecutor) UnpauseStack(ctx context.Context, user *domain.User, req domain.UnpauseStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{op: domain.OpUnpauseStack, ref: req.Stack, services: req.Services}, u)
}

// StopStack stops a stack's containers.
func (e *StackExecutor) StopStack(ctx context.Context, user *domain.User, req domain.StopStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{
		op:       domain.OpStopStack,
		ref:      req.Stack,
		services: req.Services,
		stopTime: req.StopTime,
	}, u)
}

// DestroyStack takes a stack down.
func (e *StackExecutor) DestroyStack(ctx context.Context, user *domain.User, req domain.DestroyStack, u *domain.Update) (*domain.Update, error) {
	return e.execute(ctx, user, invocation{
		op:            domain.OpDestroyStack,
		ref:           req.Stack,
		services:      req.Services,
		stopTime:      req.StopTime,
		removeOrphans: req.RemoveOrphans,
	}, u)
}

// DeployStackIfChanged refreshes the stack's latest contents and deploys only
// if they differ from what was last deployed.
func (e *StackExecutor) DeployStackIfChanged(ctx context.Context, user *domain.User, req domain.DeployStackIfChanged, u *domain.Update) (*domain.Update, error) {
	stack, err := e.resolver.GetStack(ctx, req.Stack)
	if err != nil {
		return nil, err
	}
	if err := e.resolver.CheckPermission(ctx, user, domain.ResourceStack, stack.ID, domain.PermissionExecute); err != nil {
		return nil, err
	}
	stack, err = e.refresh(ctx, stack)
	if err != nil {
		return nil, err
	}

	if u == nil {
		u = e.updates.New(domain.OpDeployStackIfChanged, stackTarget(stack), user)
	}

	if !changes.Changed(stack.Info.DeployedContents, e.diffContents(ctx, stack)) {
		u.PushSimpleLog(StageDiff, "Deploy cancelled after no changes detected.")
		if err := e.finalize(ctx, u); err != nil {
			return u, err
		}
		return u, nil
	}

	// Deploy announces the Update once it holds the guard.
	if err := e.updates.Register(ctx, u); err != nil {
		return nil, err
	}
	deployed, err := e.DeployStack(ctx, user, domain.DeployStack{Stack: stack.ID, StopTime: req.StopTime}, u)
	if deployed == nil && err != nil {
		// Failed before the Update was started; close the registered record.
		return e.fail(ctx, u, StageDiff, err)
	}
	return deployed, err
}

// diffContents returns the latest contents to compare with the deployed set.
// The agent reports deployed files rendered, so inline files are rendered
// before comparing. If rendering fails the raw file is used and the deploy
// records the failure.
func (e *StackExecutor) diffContents(ctx context.Context, stack *domain.Stack) []domain.FileContents {
	if stack.Config.FileContents == "" || stack.Config.SkipSecretInterp {
		return stack.Info.RemoteContents
	}
	vars, err := e.secrets.Load(ctx)
	if err != nil {
		e.logger.Warn("comparing unrendered inline file", zap.String("stack", stack.Name), zap.Error(err))
		return inlineContents(stack)
	}
	rendered := copyStack(stack)
	if err := interpolate.New(vars.Variables, vars.Secrets).InterpolateStack(rendered); err != nil {
		e.logger.Warn("comparing unrendered inline file", zap.String("stack", stack.Name), zap.Error(err))
		return inlineContents(stack)
	}
	return inlineContents(rendered)
}

func stackTarget(stack *domain.Stack) domain.ResourceTarget {
	return domain.ResourceTarget{Type: domain.ResourceStack, ID: stack.ID}
}

func (e *StackExecutor) execute(ctx context.Context, user *domain.User, inv invocation, u *domain.Update) (*domain.Update, error) {
	cmd, ok := commands[inv.op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %s", domain.ErrInvalidInput, inv.op)
	}

	stack, server, err := e.resolver.GetStackAndServer(ctx, inv.ref, user, domain.PermissionExecute)
	if err != nil {
		return nil, err
	}

	var repo *domain.Repo
	if cmd.withSource() {
		repo, err = e.resolver.LinkedRepo(ctx, stack)
		if err != nil {
			return nil, err
		}
	}

	guard, err := e.registry.Acquire(stack.ID, cmd.claim)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	if u == nil {
		u = e.updates.New(inv.op, stackTarget(stack), user)
	}
	if err := e.updates.Start(ctx, u); err != nil {
		return nil, err
	}

	if len(inv.services) > 0 {
		e.appendLogs(ctx, u, domain.SimpleLog(StageServices,
			"Execution requested for Stack service/s "+strings.Join(inv.services, ", ")))
	}

	client, err := e.clients.For(server)
	if err != nil {
		return e.fail(ctx, u, StageConnect, remoteError(err))
	}

	switch cmd.remote {
	case remoteUp, remotePull:
		req, err := e.stackRequest(ctx, u, stack, repo, inv.services)
		if err != nil {
			return e.fail(ctx, u, stageFor(err), err)
		}
		if cmd.remote == remotePull {
			resp, err := client.ComposePull(ctx, &periphery.ComposePullRequest{StackRequest: *req})
			if err != nil {
				return e.fail(ctx, u, "Compose Pull", sanitizeError(remoteError(err), req.Replacers))
			}
			e.appendLogs(ctx, u, resp.Logs...)
			break
		}
		resp, err := client.ComposeUp(ctx, &periphery.ComposeUpRequest{StackRequest: *req, StopTime: inv.stopTime})
		if err != nil {
			return e.fail(ctx, u, "Compose Up", sanitizeError(remoteError(err), req.Replacers))
		}
		e.appendLogs(ctx, u, resp.Logs...)
		if cmd.fold == foldDeploy {
			e.attempt(ctx, u, StageStackInfo, func() error {
				return e.saveInfo(ctx, stack, func(info *domain.StackInfo) {
					FoldDeploy(info, stack, resp)
				})
			})
		}

	case remoteExecute:
		resp, err := client.ComposeExecution(ctx, &periphery.ComposeExecutionRequest{
			Project:       stack.ProjectName(false),
			Command:       cmd.command,
			Services:      inv.services,
			StopTime:      inv.stopTime,
			RemoveOrphans: inv.removeOrphans,
		})
		if err != nil {
			return e.fail(ctx, u, "compose "+cmd.command, remoteError(err))
		}
		e.appendLogs(ctx, u, resp.Log)
	}

	e.attempt(ctx, u, StageServerCache, func() error {
		return e.monitor.RefreshServer(ctx, server)
	})

	if err := e.finalize(ctx, u); err != nil {
		return u, err
	}
	return u, nil
}

// stackRequest gathers credentials and renders the stack and repo.
func (e *StackExecutor) stackRequest(ctx context.Context, u *domain.Update, stack *domain.Stack, repo *domain.Repo, services []string) (*periphery.StackRequest, error) {
	gitToken, err := e.creds.GitToken(stack, repo)
	if err != nil {
		return nil, err
	}
	registryToken, err := e.creds.RegistryToken(stack)
	if err != nil {
		return nil, err
	}

	rendered := copyStack(stack)
	var renderedRepo *domain.Repo
	if repo != nil {
		r := *repo
		renderedRepo = &r
	}

	req := &periphery.StackRequest{
		Stack:         *rendered,
		Services:      services,
		Repo:          renderedRepo,
		GitToken:      gitToken,
		RegistryToken: registryToken,
	}
	if stack.Config.SkipSecretInterp {
		return req, nil
	}

	vars, err := e.secrets.Load(ctx)
	if err != nil {
		return nil, err
	}
	interp := interpolate.New(vars.Variables, vars.Secrets)
	if err := interp.InterpolateStack(rendered); err != nil {
		return nil, err
	}
	if renderedRepo != nil && !renderedRepo.Config.SkipSecretInterp {
		if err := interp.InterpolateRepo(renderedRepo); err != nil {
			return nil, err
		}
	}
	e.appendLogs(ctx, u, interp.Logs()...)

	req.Stack = *rendered
	req.Replacers = interp.Replacers()
	return req, nil
}

// FoldDeploy applies the result of a compose up to info. The deployed
// snapshot only moves when the agent actually deployed; latest fields always
// move. An empty service list from the agent keeps the previous latest
// services.
func FoldDeploy(info *domain.StackInfo, stack *domain.Stack, resp *periphery.ComposeUpResponse) {
	services := resp.Services
	if len(services) == 0 {
		services = info.LatestServices
	}

	if resp.Deployed {
		info.DeployedProjectName = stack.ProjectName(true)
		info.DeployedServices = services
		info.DeployedContents = resp.FileContents
		if info.DeployedContents == nil {
			info.DeployedContents = []domain.FileContents{}
		}
		info.DeployedConfig = resp.ComposeConfig
		info.DeployedHash = resp.CommitHash
		info.DeployedMessage = resp.CommitMessage
	}

	info.LatestServices = services
	info.MissingFiles = resp.MissingFiles
	if stack.Config.FileContents != "" {
		info.RemoteContents = inlineContents(stack)
		info.RemoteErrors = nil
	} else {
		info.RemoteContents = resp.FileContents
		info.RemoteErrors = resp.RemoteErrors
	}
	info.LatestHash = resp.CommitHash
	info.LatestMessage = resp.CommitMessage
}

func inlineContents(stack *domain.Stack) []domain.FileContents {
	return []domain.FileContents{{Path: domain.DefaultComposeFile, Contents: stack.Config.FileContents}}
}

// saveInfo applies apply to the stored info of stack, so fields the caller
// does not touch keep whatever a concurrent writer stored.
func (e *StackExecutor) saveInfo(ctx context.Context, stack *domain.Stack, apply func(info *domain.StackInfo)) error {
	info, err := e.store.UpdateStackInfo(context.WithoutCancel(ctx), stack.ID, apply)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrResultPersistence, err)
	}
	stack.Info = *info
	return nil
}

// attempt runs a step whose failure must not fail the command. The error is
// recorded on the Update and execution continues.
func (e *StackExecutor) attempt(ctx context.Context, u *domain.Update, stage string, step func() error) {
	if err := step(); err != nil {
		e.logger.Warn("non-fatal step failed",
			zap.String("update_id", u.ID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		e.appendLogs(ctx, u, domain.ErrorLog(stage, err.Error()))
	}
}

// fail records err on the Update, finalizes it and returns it with err.
func (e *StackExecutor) fail(ctx context.Context, u *domain.Update, stage string, err error) (*domain.Update, error) {
	u.PushErrorLog(stage, err.Error())
	if ferr := e.finalize(ctx, u); ferr != nil {
		e.logger.Error("failed to finalize update", zap.String("update_id", u.ID), zap.Error(ferr))
	}
	return u, err
}

// finalize seals u. Started Updates must reach storage as complete even when
// the caller's context is gone.
func (e *StackExecutor) finalize(ctx context.Context, u *domain.Update) error {
	return e.updates.Finalize(context.WithoutCancel(ctx), u)
}

func (e *StackExecutor) appendLogs(ctx context.Context, u *domain.Update, logs ...domain.Log) {
	if len(logs) == 0 {
		return
	}
	if err := e.updates.Append(context.WithoutCancel(ctx), u, logs...); err != nil {
		e.logger.Warn("failed to persist update logs", zap.String("update_id", u.ID), zap.Error(err))
	}
}

func stageFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrCredentialRetrieval):
		return StageCredentials
	case errors.Is(err, domain.ErrInterpolation):
		return StageInterpolate
	}
	return "Prepare"
}

func remoteError(err error) error {
	if errors.Is(err, domain.ErrRemoteAgent) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrRemoteAgent, err)
}

// sanitizeError hides secret values that the agent echoed back in an error.
func sanitizeError(err error, replacers []domain.SecretReplacer) error {
	if len(replacers) == 0 {
		return err
	}
	msg := interpolate.Sanitize(err.Error(), replacers)
	if msg == err.Error() {
		return err
	}
	return &sanitizedError{msg: msg, err: err}
}

type sanitizedError struct {
	msg string
	err error
}

func (e *sanitizedError) Error() string { return e.msg }
func (e *sanitizedError) Unwrap() error { return e.err }

func copyStack(stack *domain.Stack) *domain.Stack {
	c := *stack
	c.Config.FilePaths = append([]string(nil), stack.Config.FilePaths...)
	c.Config.ExtraArgs = append([]string(nil), stack.Config.ExtraArgs...)
	c.Config.BuildExtraArgs = append([]string(nil), stack.Config.BuildExtraArgs...)
	return &c
}
