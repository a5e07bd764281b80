package update_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/storage/memory"
	"github.com/bcnelson/stack-executor/internal/update"
)

var target = domain.ResourceTarget{Type: domain.ResourceStack, ID: "s1"}

func drain(ch <-chan *domain.Update) []*domain.Update {
	var out []*domain.Update
	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := update.NewBroadcaster(8)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()
	m := update.NewManager(store, b, nil)

	u := m.New(domain.OpDeployStack, target, &domain.User{ID: "u1"})
	assert.Equal(t, domain.UpdateStatusPending, u.Status)
	assert.Equal(t, "u1", u.OperatorID)
	assert.Empty(t, u.ID)

	require.NoError(t, m.Start(ctx, u))
	require.NotEmpty(t, u.ID)

	stored, err := store.GetUpdate(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UpdateStatusInProgress, stored.Status)

	require.NoError(t, m.Append(ctx, u, domain.SimpleLog("Compose Up", "ok")))
	stored, err = store.GetUpdate(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Logs, 1, "logs persisted incrementally")

	require.NoError(t, m.Finalize(ctx, u))
	stored, err = store.GetUpdate(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UpdateStatusComplete, stored.Status)
	assert.True(t, stored.Success)
	assert.NotNil(t, stored.EndTs)

	got := drain(events)
	require.Len(t, got, 2, "start and finalize announced")
	assert.Equal(t, domain.UpdateStatusInProgress, got[0].Status)
	assert.Equal(t, domain.UpdateStatusComplete, got[1].Status)
}

func TestFinalize_SuccessDerivedFromLogs(t *testing.T) {
	ctx := context.Background()
	m := update.NewManager(memory.New(), nil, nil)

	u := m.New(domain.OpStopStack, target, nil)
	require.NoError(t, m.Start(ctx, u))
	u.PushSimpleLog("a", "fine")
	u.PushErrorLog("b", "boom")
	require.NoError(t, m.Finalize(ctx, u))
	assert.False(t, u.Success)
}

func TestFinalize_Twice(t *testing.T) {
	ctx := context.Background()
	m := update.NewManager(memory.New(), nil, nil)

	u := m.New(domain.OpStopStack, target, nil)
	require.NoError(t, m.Start(ctx, u))
	require.NoError(t, m.Finalize(ctx, u))
	assert.ErrorIs(t, m.Finalize(ctx, u), domain.ErrUpdateFinalized)
	assert.ErrorIs(t, m.Append(ctx, u, domain.SimpleLog("late", "")), domain.ErrUpdateFinalized)
}

func TestFinalize_WithoutStartCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := update.NewManager(store, nil, nil)

	u := m.New(domain.OpDeployStackIfChanged, target, nil)
	u.PushSimpleLog("Diff compose files", "no changes")
	require.NoError(t, m.Finalize(ctx, u))

	stored, err := store.GetUpdate(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UpdateStatusComplete, stored.Status)
}

func TestRegister_DoesNotAnnounce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := update.NewBroadcaster(8)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()
	m := update.NewManager(store, b, nil)

	u := m.New(domain.OpDeployStackIfChanged, target, nil)
	require.NoError(t, m.Register(ctx, u))
	require.NotEmpty(t, u.ID)
	assert.Empty(t, drain(events))

	id := u.ID
	require.NoError(t, m.Start(ctx, u))
	assert.Equal(t, id, u.ID, "start keeps the registered id")
	assert.Len(t, drain(events), 1)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := update.NewBroadcaster(1)
	events, unsubscribe := b.Subscribe()

	u := &domain.Update{ID: "x"}
	b.Publish(u)
	b.Publish(u)
	b.Publish(u)

	assert.Len(t, drain(events), 1)
	unsubscribe()
	unsubscribe()
	b.Publish(u)
}
