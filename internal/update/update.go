// Package update owns the lifecycle of Update records: creation, incremental
// log persistence, finalization and announcement to subscribers.
package update

import (
	"context"
	"fmt"
	"time"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/logging"
	"github.com/bcnelson/stack-executor/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager persists Updates and announces them through a Broadcaster.
type Manager struct {
	store       storage.Storage
	broadcaster *Broadcaster
	logger      *zap.Logger
}

// NewManager creates a Manager. A nil broadcaster disables announcements.
func NewManager(store storage.Storage, broadcaster *Broadcaster, logger *zap.Logger) *Manager {
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		logger:      logging.OrNop(logger),
	}
}

// New returns a pending, unpersisted Update.
func (m *Manager) New(op domain.Operation, target domain.ResourceTarget, user *domain.User) *domain.Update {
	u := &domain.Update{
		Operation: op,
		Target:    target,
		Status:    domain.UpdateStatusPending,
		StartTs:   time.Now(),
	}
	if user != nil {
		u.OperatorID = user.ID
	}
	return u
}

// Register assigns an id and persists the Update without announcing it.
func (m *Manager) Register(ctx context.Context, u *domain.Update) error {
	if u.ID != "" {
		return m.store.UpdateUpdate(ctx, u)
	}
	u.ID = uuid.New().String()
	if err := m.store.CreateUpdate(ctx, u); err != nil {
		return fmt.Errorf("creating update: %w", err)
	}
	return nil
}

// Start marks the Update in progress, persists it and announces it. It is
// the only place an Update is announced as started.
func (m *Manager) Start(ctx context.Context, u *domain.Update) error {
	if u.Finalized() {
		return domain.ErrUpdateFinalized
	}
	u.Status = domain.UpdateStatusInProgress
	if u.ID == "" {
		u.ID = uuid.New().String()
		if err := m.store.CreateUpdate(ctx, u); err != nil {
			return fmt.Errorf("creating update: %w", err)
		}
	} else if err := m.store.UpdateUpdate(ctx, u); err != nil {
		return fmt.Errorf("starting update: %w", err)
	}

	m.logger.Info("update started",
		zap.String("update_id", u.ID),
		zap.String("operation", string(u.Operation)),
		zap.String("target", u.Target.ID),
	)
	m.broadcaster.Publish(u)
	return nil
}

// Append adds logs and persists the Update.
func (m *Manager) Append(ctx context.Context, u *domain.Update, logs ...domain.Log) error {
	if u.Finalized() {
		return domain.ErrUpdateFinalized
	}
	u.Logs = append(u.Logs, logs...)
	if u.ID == "" {
		return nil
	}
	if err := m.store.UpdateUpdate(ctx, u); err != nil {
		return fmt.Errorf("persisting update logs: %w", err)
	}
	return nil
}

// Finalize seals the Update, writes it and publishes the terminal state.
// An Update that was never persisted is created here.
func (m *Manager) Finalize(ctx context.Context, u *domain.Update) error {
	if u.Finalized() {
		return domain.ErrUpdateFinalized
	}
	u.Finalize()

	var err error
	if u.ID == "" {
		u.ID = uuid.New().String()
		err = m.store.CreateUpdate(ctx, u)
	} else {
		err = m.store.UpdateUpdate(ctx, u)
	}
	if err != nil {
		m.logger.Error("failed to persist finalized update", zap.String("update_id", u.ID), zap.Error(err))
		return fmt.Errorf("finalizing update: %w", err)
	}

	m.logger.Info("update complete",
		zap.String("update_id", u.ID),
		zap.String("operation", string(u.Operation)),
		zap.String("target", u.Target.ID),
		zap.Bool("success", u.Success),
	)
	m.broadcaster.Publish(u)
	return nil
}
