package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/openfroyo/provisioner/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout sorts lexically for UTC timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use, or use Open.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg, now: time.Now}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	if s.cfg.Path != MemoryPath {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	dsn := fmt.Sprintf("file:%s?%s", s.cfg.Path, strings.Join(params, "&"))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// StartRun records a new run. ID and StartedAt are filled when empty.
func (s *SQLiteStore) StartRun(ctx context.Context, run *engine.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	if run.Status == "" {
		run.Status = engine.RunStatusRunning
	}

	query := `
		INSERT INTO runs (id, resource_type, resource_name, resource_group, environment,
			status, state, error_category, error_message, correlation_id, deployment_name,
			started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ResourceType,
		run.ResourceName,
		run.ResourceGroup,
		run.Environment,
		run.Status,
		run.State,
		run.ErrorCategory,
		run.ErrorMessage,
		run.CorrelationID,
		run.DeploymentName,
		formatTime(run.StartedAt),
		formatTimePtr(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the final state of a run. CompletedAt is filled when
// empty.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *engine.Run) error {
	if run.CompletedAt == nil {
		now := s.now().UTC()
		run.CompletedAt = &now
	}

	query := `
		UPDATE runs
		SET status = ?, state = ?, error_category = ?, error_message = ?,
			correlation_id = ?, deployment_name = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.State,
		run.ErrorCategory,
		run.ErrorMessage,
		run.CorrelationID,
		run.DeploymentName,
		formatTimePtr(run.CompletedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return expectRow(result, "run", run.ID)
}

const runColumns = `id, resource_type, resource_name, resource_group, environment,
	status, state, error_category, error_message, correlation_id, deployment_name,
	started_at, completed_at`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs
		WHERE (? = '' OR resource_type = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query,
		filter.ResourceType, filter.ResourceType,
		filter.Status, filter.Status,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*engine.Run, error) {
	run := &engine.Run{}
	var startedAt string
	var completedAt sql.NullString
	err := row.Scan(
		&run.ID,
		&run.ResourceType,
		&run.ResourceName,
		&run.ResourceGroup,
		&run.Environment,
		&run.Status,
		&run.State,
		&run.ErrorCategory,
		&run.ErrorMessage,
		&run.CorrelationID,
		&run.DeploymentName,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	return run, nil
}

// AppendEvent persists an event. Appending the same event ID twice is a
// no-op.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event engine.Event) error {
	payload, err := marshalJSON(event.Payload, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if event.Level == "" {
		event.Level = event.Kind.Level()
	}

	query := `
		INSERT OR IGNORE INTO events (id, kind, path, level, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.Kind,
		event.Path,
		event.Level,
		payload,
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetEvents returns persisted events matching filter, newest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	var where []string
	var args []interface{}

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.PathPrefix != "" {
		// instr counts characters, so multi-byte prefixes match.
		where = append(where, "instr(path, ?) = 1")
		args = append(args, filter.PathPrefix)
	}

	query := `SELECT id, kind, path, level, payload, timestamp FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []engine.Event{}
	for rows.Next() {
		var event engine.Event
		var payload, ts string
		if err := rows.Scan(&event.ID, &event.Kind, &event.Path, &event.Level, &payload, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := unmarshalJSON(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		if event.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// UpsertResourceGroup creates or updates a resource group.
func (s *SQLiteStore) UpsertResourceGroup(ctx context.Context, group *engine.ResourceGroupInfo) error {
	tags, err := marshalJSON(group.Tags, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	query := `
		INSERT INTO resource_groups (name, location, tags, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			location = excluded.location,
			tags = excluded.tags
	`

	if _, err := s.db.ExecContext(ctx, query, group.Name, group.Location, tags, formatTime(s.now())); err != nil {
		return fmt.Errorf("failed to upsert resource group: %w", err)
	}
	return nil
}

// GetResourceGroup returns the named group, or (nil, nil) when absent.
func (s *SQLiteStore) GetResourceGroup(ctx context.Context, name string) (*engine.ResourceGroupInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, location, tags FROM resource_groups WHERE name = ?`, name)

	group, err := scanResourceGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource group: %w", err)
	}
	return group, nil
}

// ListResourceGroups lists every resource group by name.
func (s *SQLiteStore) ListResourceGroups(ctx context.Context) ([]*engine.ResourceGroupInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, location, tags FROM resource_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource groups: %w", err)
	}
	defer rows.Close()

	groups := []*engine.ResourceGroupInfo{}
	for rows.Next() {
		group, err := scanResourceGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource groups: %w", err)
	}
	return groups, nil
}

func scanResourceGroup(row scanner) (*engine.ResourceGroupInfo, error) {
	group := &engine.ResourceGroupInfo{}
	var tags string
	if err := row.Scan(&group.Name, &group.Location, &tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tags, &group.Tags); err != nil {
		return nil, err
	}
	return group, nil
}

// UpsertVirtualNetwork creates or updates a virtual network. ID is filled
// when empty.
func (s *SQLiteStore) UpsertVirtualNetwork(ctx context.Context, network *engine.NetworkInfo) error {
	if network.ID == "" {
		network.ID = NetworkID(network.ResourceGroup, network.Name)
	}
	space, err := marshalJSON(network.AddressSpace, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode address space: %w", err)
	}

	query := `
		INSERT INTO virtual_networks (id, name, resource_group, location, address_space, provisioning_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_group, name) DO UPDATE SET
			location = excluded.location,
			address_space = excluded.address_space,
			provisioning_state = excluded.provisioning_state
	`

	_, err = s.db.ExecContext(ctx, query,
		network.ID,
		network.Name,
		network.ResourceGroup,
		network.Location,
		space,
		network.ProvisioningState,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert virtual network: %w", err)
	}
	return nil
}

// GetVirtualNetwork returns the named network, or (nil, nil) when absent.
func (s *SQLiteStore) GetVirtualNetwork(ctx context.Context, group, name string) (*engine.NetworkInfo, error) {
	query := `
		SELECT id, name, resource_group, location, address_space, provisioning_state
		FROM virtual_networks
		WHERE resource_group = ? AND name = ?
	`

	network := &engine.NetworkInfo{}
	var space string
	err := s.db.QueryRowContext(ctx, query, group, name).Scan(
		&network.ID,
		&network.Name,
		&network.ResourceGroup,
		&network.Location,
		&space,
		&network.ProvisioningState,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual network: %w", err)
	}
	if err := unmarshalJSON(space, &network.AddressSpace); err != nil {
		return nil, fmt.Errorf("failed to decode address space: %w", err)
	}
	return network, nil
}

// UpsertResource creates or updates a resource. ID is filled when empty.
func (s *SQLiteStore) UpsertResource(ctx context.Context, resource *engine.ResourceInfo) error {
	if resource.ID == "" {
		resource.ID = ResourceID(resource.Type, resource.ResourceGroup, resource.Name)
	}
	props, err := marshalJSON(resource.Properties, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	now := formatTime(s.now())

	query := `
		INSERT INTO resources (id, type, name, resource_group, location, tier,
			provisioning_state, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, resource_group, name) DO UPDATE SET
			location = excluded.location,
			tier = excluded.tier,
			provisioning_state = excluded.provisioning_state,
			properties = excluded.properties,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		resource.ID,
		resource.Type,
		resource.Name,
		resource.ResourceGroup,
		resource.Location,
		resource.Tier,
		resource.ProvisioningState,
		props,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}
	return nil
}

const resourceColumns = `id, type, name, resource_group, location, tier, provisioning_state, properties`

// GetResource returns the named resource, or (nil, nil) when absent.
func (s *SQLiteStore) GetResource(ctx context.Context, resourceType engine.ResourceType, group, name string) (*engine.ResourceInfo, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE type = ? AND resource_group = ? AND name = ?`

	resource, err := scanResource(s.db.QueryRowContext(ctx, query, resourceType, group, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return resource, nil
}

// ListResources lists resources in a group, or in every group when group is
// empty.
func (s *SQLiteStore) ListResources(ctx context.Context, group string) ([]*engine.ResourceInfo, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources
		WHERE (? = '' OR resource_group = ?)
		ORDER BY resource_group, type, name`

	rows, err := s.db.QueryContext(ctx, query, group, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*engine.ResourceInfo{}
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return resources, nil
}

func scanResource(row scanner) (*engine.ResourceInfo, error) {
	resource := &engine.ResourceInfo{}
	var props string
	err := row.Scan(
		&resource.ID,
		&resource.Type,
		&resource.Name,
		&resource.ResourceGroup,
		&resource.Location,
		&resource.Tier,
		&resource.ProvisioningState,
		&props,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(props, &resource.Properties); err != nil {
		return nil, err
	}
	return resource, nil
}

// RecordDeployment stores a deployment record.
func (s *SQLiteStore) RecordDeployment(ctx context.Context, d *Deployment) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	if d.Parameters == "" {
		d.Parameters = "[]"
	}

	query := `
		INSERT INTO deployments (name, resource_id, resource_type, resource_group, template,
			parameters, state, correlation_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			resource_id = excluded.resource_id,
			state = excluded.state,
			correlation_id = excluded.correlation_id,
			error = excluded.error
	`

	_, err := s.db.ExecContext(ctx, query,
		d.Name,
		d.ResourceID,
		d.ResourceType,
		d.ResourceGroup,
		d.Template,
		d.Parameters,
		d.State,
		d.CorrelationID,
		d.Error,
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment by name.
func (s *SQLiteStore) GetDeployment(ctx context.Context, name string) (*Deployment, error) {
	query := `
		SELECT name, resource_id, resource_type, resource_group, template,
			parameters, state, correlation_id, error, created_at
		FROM deployments
		WHERE name = ?
	`

	d := &Deployment{}
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&d.Name,
		&d.ResourceID,
		&d.ResourceType,
		&d.ResourceGroup,
		&d.Template,
		&d.Parameters,
		&d.State,
		&d.CorrelationID,
		&d.Error,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateAuditEntry creates a new audit log entry.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	details, err := marshalJSON(entry.Details, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_log (run_id, action, actor, resource_path, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.RunID,
		entry.Action,
		entry.Actor,
		entry.ResourcePath,
		details,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries oldest first, optionally for one run.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, runID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, run_id, action, actor, resource_path, details, timestamp
		FROM audit_log
		WHERE (? = '' OR run_id = ?)
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var details, ts string
		err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Action,
			&entry.Actor,
			&entry.ResourcePath,
			&details,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := unmarshalJSON(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to decode audit details: %w", err)
		}
		if entry.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// ResourceID returns the identifier the store assigns to a resource.
func ResourceID(resourceType engine.ResourceType, group, name string) string {
	return fmt.Sprintf("/resourceGroups/%s/providers/%s/%s", group, resourceType.ProviderType(), name)
}

// NetworkID returns the identifier the store assigns to a virtual network.
func NetworkID(group, name string) string {
	return fmt.Sprintf("/resourceGroups/%s/providers/Microsoft.Network/virtualNetworks/%s", group, name)
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func marshalJSON(v interface{}, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func unmarshalJSON(s string, v interface{}) error {
	if s == "" || s == "{}" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
