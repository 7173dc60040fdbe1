package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// Config holds control database connection configuration.
type Config struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	TLS             string        `json:"tls" yaml:"tls"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            3306,
		Database:        "schema_evolve",
		Username:        "root",
		TLS:             "false",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// DSN returns the connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s&multiStatements=false",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.TLS,
	)
}

// Store implements catalog.Store against a MySQL control database.
type Store struct {
	db     *sql.DB
	config Config
}

// NewStore opens the control database, verifies connectivity and applies
// the control-database's own migrations (existence checks only — see
// migrations.go).
func NewStore(config Config) (*Store, error) {
	db, err := sql.Open("mysql", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("open control database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping control database: %w", err)
	}

	store := &Store{db: db, config: config}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run control database migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection pool for callers that need to
// probe it directly (the readiness check's PingContext).
func (s *Store) DB() *sql.DB {
	return s.db
}

func marshalDefinition(d catalog.TableDefinition) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal schema_definition: %w", err)
	}
	return string(b), nil
}

func unmarshalDefinition(raw string) (catalog.TableDefinition, error) {
	var d catalog.TableDefinition
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("unmarshal schema_definition: %w", err)
	}
	return d, nil
}

const schemaColumns = "id, table_name, database_type, partition_type, time_interval, time_format, schema_version, schema_definition, is_active, upgrade_notes, changes_detected, created_at"

func scanSchema(row interface{ Scan(...any) error }) (catalog.TableSchema, error) {
	var s catalog.TableSchema
	var dbType, partType, interval string
	var def string
	if err := row.Scan(&s.ID, &s.TableName, &dbType, &partType, &interval, &s.TimeFormat, &s.SchemaVersion, &def, &s.IsActive, &s.UpgradeNotes, &s.ChangesDetected, &s.CreatedAt); err != nil {
		return s, err
	}
	s.DatabaseType = catalog.DatabaseType(dbType)
	s.PartitionType = catalog.PartitionType(partType)
	s.TimeInterval = catalog.TimeInterval(interval)
	definition, err := unmarshalDefinition(def)
	if err != nil {
		return s, err
	}
	s.SchemaDefinition = definition
	return s, nil
}

// PutNewVersion enforces I1 and I2 inside a single transaction: it loads the
// current active row for Key (if any) under a row lock, rejects a
// non-greater version, demotes the predecessor, and inserts the new row as
// active.
func (s *Store) PutNewVersion(ctx context.Context, schema catalog.TableSchema) (catalog.TableSchema, error) {
	if err := schema.Validate(); err != nil {
		return catalog.TableSchema{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return catalog.TableSchema{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+schemaColumns+" FROM qc_table_schemas WHERE table_name = ? AND database_type = ? AND partition_type = ? AND is_active = TRUE FOR UPDATE",
		schema.TableName, schema.DatabaseType, schema.PartitionType)
	existing, err := scanSchema(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No predecessor; any version is acceptable.
	case err != nil:
		return catalog.TableSchema{}, fmt.Errorf("load active predecessor: %w", err)
	default:
		if catalog.CompareSemver(schema.SchemaVersion, existing.SchemaVersion) <= 0 {
			return catalog.TableSchema{}, fmt.Errorf("%w: %s is not greater than active %s", catalog.ErrStaleVersion, schema.SchemaVersion, existing.SchemaVersion)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE qc_table_schemas SET is_active = FALSE WHERE id = ?", existing.ID); err != nil {
			return catalog.TableSchema{}, fmt.Errorf("%w: %v", catalog.ErrInconsistent, err)
		}
	}

	def, err := marshalDefinition(schema.SchemaDefinition)
	if err != nil {
		return catalog.TableSchema{}, err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO qc_table_schemas (table_name, database_type, partition_type, time_interval, time_format, schema_version, schema_definition, is_active, upgrade_notes, changes_detected) VALUES (?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)",
		schema.TableName, schema.DatabaseType, schema.PartitionType, schema.TimeInterval, schema.TimeFormat, schema.SchemaVersion, def, schema.UpgradeNotes, schema.ChangesDetected)
	if err != nil {
		return catalog.TableSchema{}, fmt.Errorf("%w: %v", catalog.ErrInconsistent, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return catalog.TableSchema{}, fmt.Errorf("%w: %v", catalog.ErrInconsistent, err)
	}

	if err := tx.Commit(); err != nil {
		return catalog.TableSchema{}, fmt.Errorf("%w: %v", catalog.ErrInconsistent, err)
	}

	schema.ID = id
	schema.IsActive = true
	return schema, nil
}

func (s *Store) GetActive(ctx context.Context, key catalog.Key) (catalog.TableSchema, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+schemaColumns+" FROM qc_table_schemas WHERE table_name = ? AND database_type = ? AND partition_type = ? AND is_active = TRUE",
		key.TableName, key.DatabaseType, key.PartitionType)
	schema, err := scanSchema(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.TableSchema{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.TableSchema{}, fmt.Errorf("get active schema: %w", err)
	}
	return schema, nil
}

func (s *Store) FindActiveMatches(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+schemaColumns+" FROM qc_table_schemas WHERE table_name = ? AND database_type = ? AND is_active = TRUE",
		tableName, dbType)
	if err != nil {
		return nil, fmt.Errorf("find active matches: %w", err)
	}
	defer rows.Close()

	var out []catalog.TableSchema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active match: %w", err)
		}
		out = append(out, schema)
	}
	return out, rows.Err()
}

func (s *Store) ListAllActive(ctx context.Context, params catalog.ListSchemasParams) ([]catalog.TableSchema, error) {
	query := "SELECT " + schemaColumns + " FROM qc_table_schemas WHERE is_active = TRUE"
	var args []any
	if params.TableName != "" {
		query += " AND table_name = ?"
		args = append(args, params.TableName)
	}
	if params.DatabaseType != "" {
		query += " AND database_type = ?"
		args = append(args, params.DatabaseType)
	}
	if params.PartitionType != "" {
		query += " AND partition_type = ?"
		args = append(args, params.PartitionType)
	}
	// Deterministic sweep order per spec §5: database_type ASC, table_name
	// ASC. schema_version is stored as text and only ties among distinct
	// partition_type rows of the same table, so the numeric DESC tiebreak
	// is applied by the orchestrator after this fetch rather than here.
	query += " ORDER BY database_type ASC, table_name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active schemas: %w", err)
	}
	defer rows.Close()

	var out []catalog.TableSchema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active schema: %w", err)
		}
		out = append(out, schema)
	}
	return out, rows.Err()
}

func (s *Store) History(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+schemaColumns+" FROM qc_table_schemas WHERE table_name = ? AND database_type = ? ORDER BY id DESC",
		tableName, dbType)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []catalog.TableSchema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, schema)
	}
	return out, rows.Err()
}

func (s *Store) SoftDelete(ctx context.Context, key catalog.Key) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE qc_table_schemas SET is_active = FALSE WHERE table_name = ? AND database_type = ? AND partition_type = ? AND is_active = TRUE",
		key.TableName, key.DatabaseType, key.PartitionType)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) RecordHistory(ctx context.Context, h catalog.MigrationHistory) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO qc_migration_history (table_name, database_type, partition_type, schema_version, migration_type, sql_statement, execution_status, execution_time_ms, error_message, migration_batch_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		h.TableName, h.DatabaseType, h.PartitionType, h.SchemaVersion, h.MigrationType, h.SQLStatement, h.ExecutionStatus, h.ExecutionTimeMs, h.ErrorMessage, h.MigrationBatchID)
	if err != nil {
		return fmt.Errorf("record migration history: %w", err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule) (catalog.MigrationVersion, error) {
	var v catalog.MigrationVersion
	var dt, pr string
	err := s.db.QueryRowContext(ctx,
		"SELECT enterprise_id, table_name, database_type, partition_rule, current_migrated_version, migration_time FROM qc_migration_versions WHERE enterprise_id = ? AND table_name = ? AND database_type = ? AND partition_rule = ?",
		enterpriseID, tableName, dbType, rule,
	).Scan(&v.EnterpriseID, &v.TableName, &dt, &pr, &v.CurrentVersion, &v.MigrationTime)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.MigrationVersion{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.MigrationVersion{}, fmt.Errorf("get version memo: %w", err)
	}
	v.DatabaseType = catalog.DatabaseType(dt)
	v.PartitionRule = catalog.PartitionRule(pr)
	return v, nil
}

func (s *Store) PutVersion(ctx context.Context, v catalog.MigrationVersion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qc_migration_versions (enterprise_id, table_name, database_type, partition_rule, current_migrated_version, migration_time)
		 VALUES (?, ?, ?, ?, ?, NOW())
		 ON DUPLICATE KEY UPDATE current_migrated_version = VALUES(current_migrated_version), migration_time = VALUES(migration_time)`,
		v.EnterpriseID, v.TableName, v.DatabaseType, v.PartitionRule, v.CurrentVersion)
	if err != nil {
		return fmt.Errorf("upsert version memo: %w", err)
	}
	return nil
}

// lockKeyFor builds the deterministic portion of a lock_key; a millisecond
// timestamp is appended by the caller to make it unique per acquisition.
func lockKeyFor(lockType catalog.LockType, key *catalog.Key) string {
	if lockType == catalog.LockAllTables {
		return "ALL_TABLES"
	}
	return fmt.Sprintf("SINGLE_TABLE:%s:%s:%s", key.TableName, key.DatabaseType, key.PartitionType)
}

func scanLock(row interface{ Scan(...any) error }) (catalog.MigrationLock, error) {
	var l catalog.MigrationLock
	var lockType, dbType, partType string
	err := row.Scan(&l.LockKey, &lockType, &l.TableName, &dbType, &partType, &l.StartTime, &l.LockHolder, &l.IsActive)
	l.LockType = catalog.LockType(lockType)
	l.DatabaseType = catalog.DatabaseType(dbType)
	l.PartitionType = catalog.PartitionType(partType)
	return l, err
}

const lockColumns = "lock_key, lock_type, table_name, database_type, partition_type, start_time, lock_holder, is_active"

// AcquireLock implements the C3 conflict rules (§4.3) inside a single
// serializable transaction that scans active locks before inserting.
func (s *Store) AcquireLock(ctx context.Context, lockType catalog.LockType, key *catalog.Key, holder string) (catalog.MigrationLock, error) {
	if lockType == catalog.LockSingleTable && key == nil {
		return catalog.MigrationLock{}, errors.New("catalog: SINGLE_TABLE lock requires a key")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return catalog.MigrationLock{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT "+lockColumns+" FROM qc_migration_locks WHERE is_active = TRUE FOR UPDATE")
	if err != nil {
		return catalog.MigrationLock{}, fmt.Errorf("scan active locks: %w", err)
	}
	var active []catalog.MigrationLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			rows.Close()
			return catalog.MigrationLock{}, fmt.Errorf("scan active lock: %w", err)
		}
		active = append(active, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return catalog.MigrationLock{}, err
	}
	rows.Close()

	for _, l := range active {
		// Rule 1: any ALL_TABLES lock blocks every acquire.
		if l.LockType == catalog.LockAllTables {
			return l, fmt.Errorf("%w: %s", catalog.ErrLockConflict, l.LockKey)
		}
		// Rule 2: an ALL_TABLES request is blocked by any active lock.
		if lockType == catalog.LockAllTables {
			return l, fmt.Errorf("%w: %s", catalog.ErrLockConflict, l.LockKey)
		}
		// Rule 3: a SINGLE_TABLE request conflicts only with another
		// SINGLE_TABLE lock on the same key.
		if lockType == catalog.LockSingleTable && l.LockType == catalog.LockSingleTable &&
			l.TableName == key.TableName && l.DatabaseType == key.DatabaseType && l.PartitionType == key.PartitionType {
			return l, fmt.Errorf("%w: %s", catalog.ErrLockConflict, l.LockKey)
		}
	}

	lock := catalog.MigrationLock{
		LockType:   lockType,
		StartTime:  time.Now(),
		LockHolder: holder,
		IsActive:   true,
	}
	if key != nil {
		lock.TableName = key.TableName
		lock.DatabaseType = key.DatabaseType
		lock.PartitionType = key.PartitionType
	}
	lock.LockKey = fmt.Sprintf("%s_%d", lockKeyFor(lockType, key), time.Now().UnixMilli())

	_, err = tx.ExecContext(ctx,
		"INSERT INTO qc_migration_locks (lock_key, lock_type, table_name, database_type, partition_type, start_time, lock_holder, is_active) VALUES (?, ?, ?, ?, ?, ?, ?, TRUE)",
		lock.LockKey, lock.LockType, lock.TableName, lock.DatabaseType, lock.PartitionType, lock.StartTime, lock.LockHolder)
	if err != nil {
		return catalog.MigrationLock{}, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return catalog.MigrationLock{}, fmt.Errorf("commit lock acquisition: %w", err)
	}
	return lock, nil
}

func (s *Store) ReleaseLock(ctx context.Context, lockKey, holder string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE qc_migration_locks SET is_active = FALSE WHERE lock_key = ? AND lock_holder = ? AND is_active = TRUE",
		lockKey, holder)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if n == 0 {
		return catalog.ErrLockNotHeld
	}
	return nil
}

func (s *Store) ForceReleaseLock(ctx context.Context, lockKey string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE qc_migration_locks SET is_active = FALSE WHERE lock_key = ? AND is_active = TRUE",
		lockKey)
	if err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) CleanupLocksOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	res, err := s.db.ExecContext(ctx,
		"UPDATE qc_migration_locks SET is_active = FALSE WHERE is_active = TRUE AND start_time < ?",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup stale locks: %w", err)
	}
	return int(n), nil
}

func (s *Store) ListActiveLocks(ctx context.Context) ([]catalog.MigrationLock, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+lockColumns+" FROM qc_migration_locks WHERE is_active = TRUE ORDER BY start_time ASC")
	if err != nil {
		return nil, fmt.Errorf("list active locks: %w", err)
	}
	defer rows.Close()

	var out []catalog.MigrationLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
