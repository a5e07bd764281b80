package monitor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/monitor"
	"github.com/bcnelson/stack-executor/internal/periphery"
	"github.com/bcnelson/stack-executor/internal/periphery/peripherytest"
)

func TestRefreshServer(t *testing.T) {
	client := &peripherytest.Client{Projects: []periphery.ComposeProject{
		{Name: "shop", Status: "running(2)"},
	}}
	cache := monitor.NewCache(&peripherytest.Factory{Client: client})
	server := &domain.Server{ID: "srv", Name: "edge", Enabled: true}

	_, ok := cache.Get("srv")
	assert.False(t, ok)

	require.NoError(t, cache.RefreshServer(context.Background(), server))

	status, ok := cache.Get("srv")
	require.True(t, ok)
	assert.Len(t, status.Projects, 1)
	assert.False(t, status.RefreshedAt.IsZero())

	p, ok := cache.Project("srv", "shop")
	require.True(t, ok)
	assert.Equal(t, "running(2)", p.Status)
	_, ok = cache.Project("srv", "other")
	assert.False(t, ok)
}

func TestRefreshServer_Errors(t *testing.T) {
	client := &peripherytest.Client{ListErr: errors.New("unreachable")}
	cache := monitor.NewCache(&peripherytest.Factory{Client: client})

	err := cache.RefreshServer(context.Background(), &domain.Server{ID: "srv", Enabled: true})
	assert.Error(t, err)

	err = cache.RefreshServer(context.Background(), &domain.Server{ID: "off"})
	assert.ErrorIs(t, err, periphery.ErrServerDisabled)

	_, ok := cache.Get("srv")
	assert.False(t, ok)
}
