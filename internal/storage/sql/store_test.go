package sql_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/storage/sql"
)

func newStore(t *testing.T) *sql.Store {
	t.Helper()
	store, err := sql.New("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStackRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	stack := &domain.Stack{
		ID:   "s1",
		Name: "web",
		Config: domain.StackConfig{
			ServerID:  "srv",
			FilePaths: []string{"compose.yaml", "override.yaml"},
			ExtraArgs: []string{"--pull=always"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateStack(ctx, stack))
	assert.ErrorIs(t, store.CreateStack(ctx, &domain.Stack{ID: "s2", Name: "web", CreatedAt: now, UpdatedAt: now}),
		domain.ErrAlreadyExists)

	got, err := store.GetStackByName(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, stack.Config, got.Config)
	assert.Nil(t, got.Info.DeployedContents, "never deployed")

	deployed := []domain.FileContents{{Path: "compose.yaml", Contents: "services: {}"}}
	info, err := store.UpdateStackInfo(ctx, "s1", func(info *domain.StackInfo) {
		info.DeployedContents = deployed
		info.DeployedHash = "abc123"
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", info.DeployedHash)

	got, err = store.GetStack(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, deployed, got.Info.DeployedContents)
	assert.Equal(t, "abc123", got.Info.DeployedHash)
	assert.Equal(t, stack.Config, got.Config, "config untouched by info update")

	_, err = store.GetStack(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.UpdateStackInfo(ctx, "missing", func(*domain.StackInfo) {})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStackInfo_AppliesToStoredInfo(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.CreateStack(ctx, &domain.Stack{
		ID:   "s1",
		Name: "web",
		Info: domain.StackInfo{
			DeployedContents: []domain.FileContents{{Path: "compose.yaml", Contents: "v1"}},
			DeployedHash:     "aaa",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	// Concurrent writers touching disjoint fields both land.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateStackInfo(ctx, "s1", func(info *domain.StackInfo) {
				info.MissingFiles = append(info.MissingFiles, "x")
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetStack(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Info.MissingFiles, 8)
	assert.Equal(t, "aaa", got.Info.DeployedHash)
	assert.Equal(t, []domain.FileContents{{Path: "compose.yaml", Contents: "v1"}}, got.Info.DeployedContents)
}

func TestPermissionUpsert(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "u1", Username: "alice"}))

	level, err := store.GetPermissionLevel(ctx, "u1", domain.ResourceStack, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionNone, level)

	for _, l := range []domain.PermissionLevel{domain.PermissionRead, domain.PermissionWrite} {
		require.NoError(t, store.SetPermission(ctx, &domain.Permission{
			UserID: "u1", ResourceType: domain.ResourceStack, ResourceID: "s1", Level: l,
		}))
	}
	level, err = store.GetPermissionLevel(ctx, "u1", domain.ResourceStack, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionWrite, level)
}

func TestUpdateLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	start := time.Now().UTC().Truncate(time.Second)

	u := &domain.Update{
		ID:        "up1",
		Operation: domain.OpDeployStack,
		Target:    domain.ResourceTarget{Type: domain.ResourceStack, ID: "s1"},
		Status:    domain.UpdateStatusInProgress,
		StartTs:   start,
	}
	require.NoError(t, store.CreateUpdate(ctx, u))

	u.PushSimpleLog("Compose Up", "done")
	u.Finalize()
	require.NoError(t, store.UpdateUpdate(ctx, u))

	got, err := store.GetUpdate(ctx, "up1")
	require.NoError(t, err)
	assert.Equal(t, domain.UpdateStatusComplete, got.Status)
	assert.True(t, got.Success)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "Compose Up", got.Logs[0].Stage)
	assert.NotNil(t, got.EndTs)
	assert.Equal(t, domain.ResourceTarget{Type: domain.ResourceStack, ID: "s1"}, got.Target)

	list, err := store.ListUpdates(ctx, domain.UpdateListQuery{TargetID: "s1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestVariablesAndServers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.SetVariable(ctx, &domain.Variable{Name: "TOKEN", Value: "a", IsSecret: true}))
	require.NoError(t, store.SetVariable(ctx, &domain.Variable{Name: "TOKEN", Value: "b", IsSecret: true}))
	vars, err := store.ListVariables(ctx)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "b", vars[0].Value)

	require.NoError(t, store.CreateServer(ctx, &domain.Server{
		ID: "srv", Name: "edge", Address: "https://edge:8120", Passkey: "pk", Enabled: true, CreatedAt: time.Now(),
	}))
	srv, err := store.GetServer(ctx, "srv")
	require.NoError(t, err)
	assert.Equal(t, "pk", srv.Passkey)
	assert.True(t, srv.Enabled)
}
