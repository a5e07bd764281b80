package compose_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/stack-executor/internal/compose"
	"github.com/bcnelson/stack-executor/internal/domain"
)

func TestParseServices(t *testing.T) {
	files := []domain.FileContents{{
		Path: "compose.yaml",
		Contents: `
services:
  web:
    image: nginx:1.27
    container_name: edge-proxy
  api:
    image: ghcr.io/acme/api:latest
`,
	}}

	services, err := compose.ParseServices(context.Background(), "shop", files)
	require.NoError(t, err)
	assert.Equal(t, []domain.StackServiceNames{
		{ServiceName: "api", ContainerName: "shop-api-1", Image: "ghcr.io/acme/api:latest"},
		{ServiceName: "web", ContainerName: "edge-proxy", Image: "nginx:1.27"},
	}, services)
}

func TestParseServices_MergesOverrides(t *testing.T) {
	files := []domain.FileContents{
		{Path: "compose.yaml", Contents: "services:\n  web:\n    image: nginx:1.26\n"},
		{Path: "compose.prod.yaml", Contents: "services:\n  web:\n    image: nginx:1.27\n  worker:\n    image: busybox\n"},
	}

	services, err := compose.ParseServices(context.Background(), "shop", files)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "nginx:1.27", services[0].Image)
	assert.Equal(t, "worker", services[1].ServiceName)
}

func TestParseServices_Empty(t *testing.T) {
	services, err := compose.ParseServices(context.Background(), "shop", nil)
	require.NoError(t, err)
	assert.Nil(t, services)
}

func TestParseServices_InvalidYAML(t *testing.T) {
	_, err := compose.ParseServices(context.Background(), "shop", []domain.FileContents{
		{Path: "compose.yaml", Contents: "services: [unclosed"},
	})
	assert.Error(t, err)
}
