package permissions

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the engine's migrations. The resource and group
// tables belong to the surrounding platform; they are created IF NOT EXISTS
// here so the engine runs standalone in development and tests.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create resource hierarchy tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS subspaces (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS documents (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					subspace_id BIGINT REFERENCES subspaces(id) ON DELETE SET NULL,
					title VARCHAR(512) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_subspaces_workspace_id ON subspaces(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_documents_workspace_id ON documents(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_documents_subspace_id ON documents(subspace_id);
			`,
		},
		{
			Version:     2,
			Description: "Create group tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(workspace_id, name)
				);

				CREATE TABLE IF NOT EXISTS group_members (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					added_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(group_id, user_id)
				);

				CREATE TABLE IF NOT EXISTS group_grants (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					resource_type VARCHAR(32) NOT NULL,
					resource_id BIGINT NOT NULL,
					permission VARCHAR(32) NOT NULL,
					priority INT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(group_id, resource_type, resource_id)
				);

				CREATE INDEX IF NOT EXISTS idx_group_members_group_id ON group_members(group_id);
				CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
				CREATE INDEX IF NOT EXISTS idx_group_grants_group_id ON group_grants(group_id);
			`,
		},
		{
			Version:     3,
			Description: "Create unified_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS unified_permissions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT,
					guest_id BIGINT,
					resource_type VARCHAR(32) NOT NULL,
					resource_id BIGINT NOT NULL,
					permission VARCHAR(32) NOT NULL,
					source_type VARCHAR(32) NOT NULL,
					source_id BIGINT NOT NULL,
					priority INT NOT NULL DEFAULT 0,
					expires_at TIMESTAMP,
					created_by_id BIGINT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK ((user_id IS NULL) != (guest_id IS NULL)),
					CHECK (source_type != 'guest' OR expires_at IS NOT NULL)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_unified_permissions_row_key
					ON unified_permissions (COALESCE(user_id, 0), COALESCE(guest_id, 0), resource_type, resource_id, source_type, source_id);

				CREATE INDEX IF NOT EXISTS idx_unified_permissions_user_id ON unified_permissions(user_id);
				CREATE INDEX IF NOT EXISTS idx_unified_permissions_guest_id ON unified_permissions(guest_id);
				CREATE INDEX IF NOT EXISTS idx_unified_permissions_resource ON unified_permissions(resource_type, resource_id);
				CREATE INDEX IF NOT EXISTS idx_unified_permissions_source ON unified_permissions(source_type, source_id);
				CREATE INDEX IF NOT EXISTS idx_unified_permissions_expires_at ON unified_permissions(expires_at) WHERE expires_at IS NOT NULL;
			`,
		},
	}
}

// RunMigrations applies all pending migrations inside transactions, tracked
// in permission_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS permission_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM permission_migrations ORDER BY version`)
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO permission_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
