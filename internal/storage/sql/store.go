package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
	infoMu sync.Mutex
}

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================
// API Keys
// ============================================

const apiKeyColumns = `id, name, user_id, key_hash, key_prefix, created_at, last_used_at`

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.UserID, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

// ============================================
// Users and permissions
// ============================================

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, admin) VALUES ($1, $2, $3)`,
		user.ID, user.Username, user.Admin)
	return wrapUniqueError(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT id, username, admin FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) SetPermission(ctx context.Context, perm *domain.Permission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permissions (user_id, resource_type, resource_id, level)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, resource_type, resource_id) DO UPDATE SET level = excluded.level`,
		perm.UserID, perm.ResourceType, perm.ResourceID, int(perm.Level))
	return err
}

func (s *Store) GetPermissionLevel(ctx context.Context, userID, resourceType, resourceID string) (domain.PermissionLevel, error) {
	var level int
	err := s.db.GetContext(ctx, &level,
		`SELECT level FROM permissions WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`,
		userID, resourceType, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PermissionNone, nil
	}
	if err != nil {
		return domain.PermissionNone, err
	}
	return domain.PermissionLevel(level), nil
}

// ============================================
// Servers
// ============================================

const serverColumns = `id, name, address, passkey, enabled, created_at`

func (s *Store) CreateServer(ctx context.Context, server *domain.Server) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (`+serverColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		server.ID, server.Name, server.Address, server.Passkey, server.Enabled, server.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	var server domain.Server
	err := s.db.GetContext(ctx, &server, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &server, nil
}

func (s *Store) ListServers(ctx context.Context) ([]*domain.Server, error) {
	var servers []*domain.Server
	err := s.db.SelectContext(ctx, &servers, `SELECT `+serverColumns+` FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return servers, nil
}

// ============================================
// Repos
// ============================================

type repoRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	ConfigJSON string    `db:"config_json"`
	CreatedAt  time.Time `db:"created_at"`
}

func rowToRepo(row *repoRow) (*domain.Repo, error) {
	repo := &domain.Repo{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal([]byte(row.ConfigJSON), &repo.Config); err != nil {
		return nil, fmt.Errorf("decoding repo %s config: %w", row.ID, err)
	}
	return repo, nil
}

func (s *Store) CreateRepo(ctx context.Context, repo *domain.Repo) error {
	configJSON, err := json.Marshal(repo.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repos (id, name, config_json, created_at) VALUES ($1, $2, $3, $4)`,
		repo.ID, repo.Name, string(configJSON), repo.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) getRepoWhere(ctx context.Context, column, value string) (*domain.Repo, error) {
	var row repoRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, config_json, created_at FROM repos WHERE `+column+` = $1`, value)
	if err != nil {
		return nil, notFound(err)
	}
	return rowToRepo(&row)
}

func (s *Store) GetRepo(ctx context.Context, id string) (*domain.Repo, error) {
	return s.getRepoWhere(ctx, "id", id)
}

func (s *Store) GetRepoByName(ctx context.Context, name string) (*domain.Repo, error) {
	return s.getRepoWhere(ctx, "name", name)
}

// ============================================
// Stacks
// ============================================

const stackColumns = `id, name, description, config_json, info_json, created_at, updated_at`

type stackRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	ConfigJSON  string    `db:"config_json"`
	InfoJSON    string    `db:"info_json"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func rowToStack(row *stackRow) (*domain.Stack, error) {
	stack := &domain.Stack{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.ConfigJSON), &stack.Config); err != nil {
		return nil, fmt.Errorf("decoding stack %s config: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.InfoJSON), &stack.Info); err != nil {
		return nil, fmt.Errorf("decoding stack %s info: %w", row.ID, err)
	}
	return stack, nil
}

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	configJSON, err := json.Marshal(stack.Config)
	if err != nil {
		return err
	}
	infoJSON, err := json.Marshal(stack.Info)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stacks (`+stackColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stack.ID, stack.Name, stack.Description, string(configJSON), string(infoJSON),
		stack.CreatedAt, stack.UpdatedAt)
	return wrapUniqueError(err)
}

func (s *Store) getStackWhere(ctx context.Context, column, value string) (*domain.Stack, error) {
	var row stackRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+stackColumns+` FROM stacks WHERE `+column+` = $1`, value)
	if err != nil {
		return nil, notFound(err)
	}
	return rowToStack(&row)
}

func (s *Store) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	return s.getStackWhere(ctx, "id", id)
}

func (s *Store) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	return s.getStackWhere(ctx, "name", name)
}

func (s *Store) ListStacks(ctx context.Context) ([]*domain.Stack, error) {
	var rows []stackRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+stackColumns+` FROM stacks ORDER BY name`); err != nil {
		return nil, err
	}
	stacks := make([]*domain.Stack, 0, len(rows))
	for i := range rows {
		stack, err := rowToStack(&rows[i])
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, stack)
	}
	return stacks, nil
}

func (s *Store) UpdateStackInfo(ctx context.Context, id string, apply func(info *domain.StackInfo)) (*domain.StackInfo, error) {
	// sqlite has no row locks; serialize read-modify-write in process.
	s.infoMu.Lock()
	defer s.infoMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT info_json FROM stacks WHERE id = $1`
	if s.driver == "postgres" {
		query += ` FOR UPDATE`
	}
	var raw string
	if err := tx.GetContext(ctx, &raw, query, id); err != nil {
		return nil, notFound(err)
	}
	var info domain.StackInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decoding stack %s info: %w", id, err)
	}

	apply(&info)

	infoJSON, err := json.Marshal(&info)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stacks SET info_json = $1, updated_at = $2 WHERE id = $3`,
		string(infoJSON), time.Now(), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &info, nil
}

// ============================================
// Variables
// ============================================

func (s *Store) SetVariable(ctx context.Context, v *domain.Variable) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO variables (name, value, description, is_secret)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET
		   value = excluded.value, description = excluded.description, is_secret = excluded.is_secret`,
		v.Name, v.Value, v.Description, v.IsSecret)
	return err
}

func (s *Store) ListVariables(ctx context.Context) ([]*domain.Variable, error) {
	var vars []*domain.Variable
	err := s.db.SelectContext(ctx, &vars,
		`SELECT name, value, description, is_secret FROM variables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// ============================================
// Updates
// ============================================

const updateColumns = `id, operation, target_type, target_id, operator_id, status, success, logs_json, start_ts, end_ts`

type updateRow struct {
	ID         string     `db:"id"`
	Operation  string     `db:"operation"`
	TargetType string     `db:"target_type"`
	TargetID   string     `db:"target_id"`
	OperatorID string     `db:"operator_id"`
	Status     string     `db:"status"`
	Success    bool       `db:"success"`
	LogsJSON   string     `db:"logs_json"`
	StartTs    time.Time  `db:"start_ts"`
	EndTs      *time.Time `db:"end_ts"`
}

func rowToUpdate(row *updateRow) (*domain.Update, error) {
	u := &domain.Update{
		ID:         row.ID,
		Operation:  domain.Operation(row.Operation),
		Target:     domain.ResourceTarget{Type: row.TargetType, ID: row.TargetID},
		OperatorID: row.OperatorID,
		Status:     domain.UpdateStatus(row.Status),
		Success:    row.Success,
		StartTs:    row.StartTs,
		EndTs:      row.EndTs,
	}
	if err := json.Unmarshal([]byte(row.LogsJSON), &u.Logs); err != nil {
		return nil, fmt.Errorf("decoding update %s logs: %w", row.ID, err)
	}
	return u, nil
}

func marshalLogs(logs []domain.Log) (string, error) {
	if logs == nil {
		logs = []domain.Log{}
	}
	data, err := json.Marshal(logs)
	return string(data), err
}

func (s *Store) CreateUpdate(ctx context.Context, u *domain.Update) error {
	logsJSON, err := marshalLogs(u.Logs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO updates (`+updateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, string(u.Operation), u.Target.Type, u.Target.ID, u.OperatorID,
		string(u.Status), u.Success, logsJSON, u.StartTs, u.EndTs)
	return wrapUniqueError(err)
}

func (s *Store) GetUpdate(ctx context.Context, id string) (*domain.Update, error) {
	var row updateRow
	err := s.db.GetContext(ctx, &row, `SELECT `+updateColumns+` FROM updates WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return rowToUpdate(&row)
}

func (s *Store) UpdateUpdate(ctx context.Context, u *domain.Update) error {
	logsJSON, err := marshalLogs(u.Logs)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE updates SET status = $1, success = $2, logs_json = $3, end_ts = $4 WHERE id = $5`,
		string(u.Status), u.Success, logsJSON, u.EndTs, u.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListUpdates(ctx context.Context, q domain.UpdateListQuery) ([]*domain.Update, error) {
	query := `SELECT ` + updateColumns + ` FROM updates`
	var args []any
	if q.TargetID != "" {
		args = append(args, q.TargetID)
		query += fmt.Sprintf(` WHERE target_id = $%d`, len(args))
	}
	query += ` ORDER BY start_ts DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
		if q.Offset > 0 {
			args = append(args, q.Offset)
			query += fmt.Sprintf(` OFFSET $%d`, len(args))
		}
	}

	var rows []updateRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	updates := make([]*domain.Update, 0, len(rows))
	for i := range rows {
		u, err := rowToUpdate(&rows[i])
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}
