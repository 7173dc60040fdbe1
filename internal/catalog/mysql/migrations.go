// Package mysql implements the catalog.Store contract against the control
// database.
package mysql

// migrations contains the control database's own schema, applied as
// existence checks at startup — per SPEC_FULL §10/spec.md §9, the control
// database is managed by explicit migrations owned by this system, not by
// reconcile-style alter-level reconciliation of its own tables.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS qc_table_schemas (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		table_name VARCHAR(191) NOT NULL,
		database_type VARCHAR(16) NOT NULL,
		partition_type VARCHAR(16) NOT NULL,
		time_interval VARCHAR(8) NOT NULL DEFAULT '',
		time_format VARCHAR(32) NOT NULL DEFAULT '',
		schema_version VARCHAR(64) NOT NULL,
		schema_definition MEDIUMTEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		upgrade_notes TEXT,
		changes_detected TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_qc_table_schemas_key (table_name, database_type, partition_type),
		KEY idx_qc_table_schemas_active (table_name, database_type, partition_type, is_active)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS qc_migration_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		table_name VARCHAR(191) NOT NULL,
		database_type VARCHAR(16) NOT NULL,
		partition_type VARCHAR(16) NOT NULL,
		schema_version VARCHAR(64) NOT NULL,
		migration_type VARCHAR(16) NOT NULL,
		sql_statement MEDIUMTEXT NOT NULL,
		execution_status VARCHAR(16) NOT NULL,
		execution_time_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT,
		migration_batch_id VARCHAR(36) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_qc_migration_history_batch (migration_batch_id),
		KEY idx_qc_migration_history_table (table_name, database_type)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS qc_migration_locks (
		lock_key VARCHAR(191) PRIMARY KEY,
		lock_type VARCHAR(16) NOT NULL,
		table_name VARCHAR(191) NOT NULL DEFAULT '',
		database_type VARCHAR(16) NOT NULL DEFAULT '',
		partition_type VARCHAR(16) NOT NULL DEFAULT '',
		start_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		lock_holder VARCHAR(191) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		KEY idx_qc_migration_locks_active (is_active)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS qc_migration_versions (
		enterprise_id VARCHAR(191) NOT NULL,
		table_name VARCHAR(191) NOT NULL,
		database_type VARCHAR(16) NOT NULL,
		partition_rule VARCHAR(16) NOT NULL,
		current_migrated_version VARCHAR(64) NOT NULL,
		migration_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (enterprise_id, table_name, database_type, partition_rule)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}
