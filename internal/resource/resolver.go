// Package resource resolves user-supplied references to stored resources and
// enforces permissions on them.
package resource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/moby/patternmatcher"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/storage"
)

// Resolver looks resources up by id or name.
type Resolver struct {
	store storage.Storage
}

// NewResolver creates a Resolver.
func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{store: store}
}

// GetStack resolves ref as a stack id, then as a stack name.
func (r *Resolver) GetStack(ctx context.Context, ref string) (*domain.Stack, error) {
	stack, err := r.store.GetStack(ctx, ref)
	if err == nil {
		return stack, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	stack, err = r.store.GetStackByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("stack %q: %w", ref, err)
	}
	return stack, nil
}

// GetRepo resolves ref as a repo id, then as a repo name.
func (r *Resolver) GetRepo(ctx context.Context, ref string) (*domain.Repo, error) {
	repo, err := r.store.GetRepo(ctx, ref)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	repo, err = r.store.GetRepoByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("repo %q: %w", ref, err)
	}
	return repo, nil
}

// LinkedRepo returns the repo a stack takes its files from, or nil.
func (r *Resolver) LinkedRepo(ctx context.Context, stack *domain.Stack) (*domain.Repo, error) {
	if stack.Config.FilesOnHost || stack.Config.LinkedRepo == "" {
		return nil, nil
	}
	return r.GetRepo(ctx, stack.Config.LinkedRepo)
}

// PermissionLevel returns the user's level on a resource. Admins have Write
// on everything.
func (r *Resolver) PermissionLevel(ctx context.Context, user *domain.User, resourceType, resourceID string) (domain.PermissionLevel, error) {
	if user == nil {
		return domain.PermissionNone, domain.ErrUnauthorized
	}
	if user.Admin {
		return domain.PermissionWrite, nil
	}
	return r.store.GetPermissionLevel(ctx, user.ID, resourceType, resourceID)
}

// CheckPermission fails with domain.ErrPermissionDenied if the user's level
// on the resource is below level.
func (r *Resolver) CheckPermission(ctx context.Context, user *domain.User, resourceType, resourceID string, level domain.PermissionLevel) error {
	have, err := r.PermissionLevel(ctx, user, resourceType, resourceID)
	if err != nil {
		return err
	}
	if have < level {
		return fmt.Errorf("%w: user %s needs %s on %s %s",
			domain.ErrPermissionDenied, user.Username, level, resourceType, resourceID)
	}
	return nil
}

// GetStackAndServer resolves a stack the user holds level on, together with
// its server.
func (r *Resolver) GetStackAndServer(ctx context.Context, ref string, user *domain.User, level domain.PermissionLevel) (*domain.Stack, *domain.Server, error) {
	stack, err := r.GetStack(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if err := r.CheckPermission(ctx, user, domain.ResourceStack, stack.ID, level); err != nil {
		return nil, nil, err
	}
	if stack.Config.ServerID == "" {
		return nil, nil, fmt.Errorf("%w: stack %s has no server configured", domain.ErrInvalidInput, stack.Name)
	}
	server, err := r.store.GetServer(ctx, stack.Config.ServerID)
	if err != nil {
		return nil, nil, fmt.Errorf("server for stack %s: %w", stack.Name, err)
	}
	return stack, server, nil
}

type matcher func(name string) (bool, error)

func compileItem(item string) (matcher, error) {
	if len(item) >= 2 && strings.HasPrefix(item, `\`) && strings.HasSuffix(item, `\`) {
		re, err := regexp.Compile(item[1 : len(item)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad regex %q: %v", domain.ErrInvalidInput, item, err)
		}
		return func(name string) (bool, error) { return re.MatchString(name), nil }, nil
	}
	pm, err := patternmatcher.New([]string{item})
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", domain.ErrInvalidInput, item, err)
	}
	return pm.MatchesOrParentMatches, nil
}

// MatchStacks returns the stacks whose names match pattern and that the user
// can at least read, ordered by name.
//
// The pattern is split on commas and whitespace. Items wrapped in
// backslashes are regular expressions; other items are wildcard patterns.
func (r *Resolver) MatchStacks(ctx context.Context, pattern string, user *domain.User) ([]*domain.Stack, error) {
	items := strings.FieldsFunc(pattern, func(c rune) bool { return c == ',' || unicode.IsSpace(c) })
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty pattern", domain.ErrInvalidInput)
	}
	matchers := make([]matcher, 0, len(items))
	for _, item := range items {
		m, err := compileItem(item)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}

	stacks, err := r.store.ListStacks(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domain.Stack
	for _, stack := range stacks {
		matched := false
		for _, m := range matchers {
			ok, err := m(stack.Name)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		level, err := r.PermissionLevel(ctx, user, domain.ResourceStack, stack.ID)
		if err != nil {
			return nil, err
		}
		if level >= domain.PermissionRead {
			out = append(out, stack)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
