// Package monitor caches the compose project state reported by each server.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/periphery"
)

// ServerStatus is the last known compose state of a server.
type ServerStatus struct {
	Projects    []periphery.ComposeProject `json:"projects"`
	RefreshedAt time.Time                  `json:"refreshed_at"`
}

// Cache holds one ServerStatus per server id.
type Cache struct {
	clients periphery.ClientFactory

	mu      sync.RWMutex
	servers map[string]ServerStatus
}

// NewCache creates an empty Cache.
func NewCache(clients periphery.ClientFactory) *Cache {
	return &Cache{clients: clients, servers: make(map[string]ServerStatus)}
}

// RefreshServer asks the server for its compose projects and stores them.
func (c *Cache) RefreshServer(ctx context.Context, server *domain.Server) error {
	client, err := c.clients.For(server)
	if err != nil {
		return err
	}
	projects, err := client.ListComposeProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing compose projects on %s: %w", server.Name, err)
	}

	c.mu.Lock()
	c.servers[server.ID] = ServerStatus{Projects: projects, RefreshedAt: time.Now()}
	c.mu.Unlock()
	return nil
}

// Get returns the cached status for a server.
func (c *Cache) Get(serverID string) (ServerStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.servers[serverID]
	return status, ok
}

// Project returns the cached project with the given name on a server.
func (c *Cache) Project(serverID, name string) (periphery.ComposeProject, bool) {
	status, ok := c.Get(serverID)
	if !ok {
		return periphery.ComposeProject{}, false
	}
	for _, p := range status.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return periphery.ComposeProject{}, false
}
