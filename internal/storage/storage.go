package storage

import (
	"context"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Users and permissions
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	SetPermission(ctx context.Context, perm *domain.Permission) error
	// GetPermissionLevel returns PermissionNone when no grant exists.
	GetPermissionLevel(ctx context.Context, userID, resourceType, resourceID string) (domain.PermissionLevel, error)

	// Servers
	CreateServer(ctx context.Context, server *domain.Server) error
	GetServer(ctx context.Context, id string) (*domain.Server, error)
	ListServers(ctx context.Context) ([]*domain.Server, error)

	// Repos
	CreateRepo(ctx context.Context, repo *domain.Repo) error
	GetRepo(ctx context.Context, id string) (*domain.Repo, error)
	GetRepoByName(ctx context.Context, name string) (*domain.Repo, error)

	// Stacks
	CreateStack(ctx context.Context, stack *domain.Stack) error
	GetStack(ctx context.Context, id string) (*domain.Stack, error)
	GetStackByName(ctx context.Context, name string) (*domain.Stack, error)
	ListStacks(ctx context.Context) ([]*domain.Stack, error)
	// UpdateStackInfo applies apply to the stored info document of a stack and
	// persists the result atomically, returning the new info. Only the info
	// document is written.
	UpdateStackInfo(ctx context.Context, id string, apply func(info *domain.StackInfo)) (*domain.StackInfo, error)

	// Variables
	SetVariable(ctx context.Context, v *domain.Variable) error
	ListVariables(ctx context.Context) ([]*domain.Variable, error)

	// Updates
	CreateUpdate(ctx context.Context, u *domain.Update) error
	GetUpdate(ctx context.Context, id string) (*domain.Update, error)
	UpdateUpdate(ctx context.Context, u *domain.Update) error
	ListUpdates(ctx context.Context, q domain.UpdateListQuery) ([]*domain.Update, error)
}
