package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// Store is an in-memory implementation of the storage interface for testing.
// Stacks, repos and updates are copied on the way in and out so callers can
// mutate what they get back, the same as with the SQL store.
type Store struct {
	mu sync.RWMutex

	apiKeys     map[string]*domain.APIKey
	users       map[string]*domain.User
	permissions map[string]domain.PermissionLevel // key: userID:type:resourceID
	servers     map[string]*domain.Server
	repos       map[string]*domain.Repo
	stacks      map[string]*domain.Stack
	variables   map[string]*domain.Variable
	updates     map[string]*domain.Update
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:     make(map[string]*domain.APIKey),
		users:       make(map[string]*domain.User),
		permissions: make(map[string]domain.PermissionLevel),
		servers:     make(map[string]*domain.Server),
		repos:       make(map[string]*domain.Repo),
		stacks:      make(map[string]*domain.Stack),
		variables:   make(map[string]*domain.Variable),
		updates:     make(map[string]*domain.Update),
	}
}

func (s *Store) Close() error { return nil }

// deepCopy round-trips through JSON, which keeps the nil/empty slice
// distinction the stack info relies on.
func deepCopy[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Users and permissions
// ============================================

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return domain.ErrAlreadyExists
		}
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, exists := s.users[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	u := *user
	return &u, nil
}

func permissionKey(userID, resourceType, resourceID string) string {
	return userID + ":" + resourceType + ":" + resourceID
}

func (s *Store) SetPermission(ctx context.Context, perm *domain.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[permissionKey(perm.UserID, perm.ResourceType, perm.ResourceID)] = perm.Level
	return nil
}

func (s *Store) GetPermissionLevel(ctx context.Context, userID, resourceType, resourceID string) (domain.PermissionLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions[permissionKey(userID, resourceType, resourceID)], nil
}

// ============================================
// Servers
// ============================================

func (s *Store) CreateServer(ctx context.Context, server *domain.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.servers[server.ID]; exists {
		return domain.ErrAlreadyExists
	}
	srv := *server
	s.servers[server.ID] = &srv
	return nil
}

func (s *Store) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	server, exists := s.servers[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	srv := *server
	return &srv, nil
}

func (s *Store) ListServers(ctx context.Context) ([]*domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	servers := make([]*domain.Server, 0, len(s.servers))
	for _, server := range s.servers {
		srv := *server
		servers = append(servers, &srv)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// ============================================
// Repos
// ============================================

func (s *Store) CreateRepo(ctx context.Context, repo *domain.Repo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.repos[repo.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.repos {
		if existing.Name == repo.Name {
			return domain.ErrAlreadyExists
		}
	}
	s.repos[repo.ID] = deepCopy(repo)
	return nil
}

func (s *Store) GetRepo(ctx context.Context, id string) (*domain.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, exists := s.repos[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return deepCopy(repo), nil
}

func (s *Store) GetRepoByName(ctx context.Context, name string) (*domain.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, repo := range s.repos {
		if repo.Name == name {
			return deepCopy(repo), nil
		}
	}
	return nil, domain.ErrNotFound
}

// ============================================
// Stacks
// ============================================

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stacks[stack.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.stacks {
		if existing.Name == stack.Name {
			return domain.ErrAlreadyExists
		}
	}
	s.stacks[stack.ID] = deepCopy(stack)
	return nil
}

func (s *Store) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stack, exists := s.stacks[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return deepCopy(stack), nil
}

func (s *Store) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stack := range s.stacks {
		if stack.Name == name {
			return deepCopy(stack), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListStacks(ctx context.Context) ([]*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stacks := make([]*domain.Stack, 0, len(s.stacks))
	for _, stack := range s.stacks {
		stacks = append(stacks, deepCopy(stack))
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].Name < stacks[j].Name })
	return stacks, nil
}

func (s *Store) UpdateStackInfo(ctx context.Context, id string, apply func(info *domain.StackInfo)) (*domain.StackInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack, exists := s.stacks[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	info := deepCopy(&stack.Info)
	apply(info)
	stack.Info = *deepCopy(info)
	stack.UpdatedAt = time.Now()
	return info, nil
}

// ============================================
// Variables
// ============================================

func (s *Store) SetVariable(ctx context.Context, v *domain.Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.variables[v.Name] = &cp
	return nil
}

func (s *Store) ListVariables(ctx context.Context) ([]*domain.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vars := make([]*domain.Variable, 0, len(s.variables))
	for _, v := range s.variables {
		cp := *v
		vars = append(vars, &cp)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars, nil
}

// ============================================
// Updates
// ============================================

func (s *Store) CreateUpdate(ctx context.Context, u *domain.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.updates[u.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.updates[u.ID] = u.Clone()
	return nil
}

func (s *Store) GetUpdate(ctx context.Context, id string) (*domain.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, exists := s.updates[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) UpdateUpdate(ctx context.Context, u *domain.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.updates[u.ID]; !exists {
		return domain.ErrNotFound
	}
	s.updates[u.ID] = u.Clone()
	return nil
}

func (s *Store) ListUpdates(ctx context.Context, q domain.UpdateListQuery) ([]*domain.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	updates := make([]*domain.Update, 0, len(s.updates))
	for _, u := range s.updates {
		if q.TargetID != "" && u.Target.ID != q.TargetID {
			continue
		}
		updates = append(updates, u.Clone())
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].StartTs.After(updates[j].StartTs) })

	if q.Offset > 0 {
		if q.Offset >= len(updates) {
			return []*domain.Update{}, nil
		}
		updates = updates[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(updates) {
		updates = updates[:q.Limit]
	}
	return updates, nil
}
