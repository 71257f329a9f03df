package sqlstore

import (
	"context"
	"fmt"
)

// createSchema creates all tables and indexes if missing. Column types
// are chosen to be valid across SQLite, PostgreSQL, and MySQL.
func (s *Store) createSchema(ctx context.Context) error {
	text := "TEXT"
	if s.dialect == "mysql" {
		// TEXT cannot be a primary key in MySQL without a length
		text = "VARCHAR(512)"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kv_entries (
			namespace  %s NOT NULL,
			k          %s NOT NULL,
			value      TEXT NOT NULL,
			expires_at BIGINT,
			PRIMARY KEY (namespace, k)
		)`, text, text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kv_lists (
			namespace  %s NOT NULL,
			k          %s NOT NULL,
			value      TEXT NOT NULL,
			expires_at BIGINT,
			PRIMARY KEY (namespace, k)
		)`, text, text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id               %s PRIMARY KEY,
			user_id          %s NOT NULL,
			agent_id         %s NOT NULL,
			type             %s NOT NULL,
			content          TEXT NOT NULL,
			importance       DOUBLE PRECISION NOT NULL,
			resonance        DOUBLE PRECISION NOT NULL,
			access_count     INTEGER NOT NULL,
			session_id       %s,
			created_at       BIGINT NOT NULL,
			updated_at       BIGINT NOT NULL,
			last_accessed_at BIGINT NOT NULL,
			data             TEXT NOT NULL
		)`, text, text, text, text, text),

		`CREATE INDEX IF NOT EXISTS idx_memories_owner_tier
			ON memories (user_id, agent_id, type, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_memories_owner_importance
			ON memories (user_id, agent_id, importance)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_connections (
			user_id    %s NOT NULL,
			source_id  %s NOT NULL,
			target_id  %s NOT NULL,
			type       %s NOT NULL,
			strength   DOUBLE PRECISION NOT NULL,
			reason     TEXT,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (source_id, target_id)
		)`, text, text, text, text),

		`CREATE INDEX IF NOT EXISTS idx_connections_user
			ON memory_connections (user_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_embeddings (
			memory_id %s PRIMARY KEY,
			user_id   %s NOT NULL,
			model     %s NOT NULL,
			vector    TEXT NOT NULL
		)`, text, text, text),
	}

	for _, stmt := range statements {
		if s.dialect == "mysql" && isCreateIndex(stmt) {
			// MySQL has no CREATE INDEX IF NOT EXISTS; index creation
			// failures for existing indexes are ignored below.
			if _, err := s.db.ExecContext(ctx, stripIfNotExists(stmt)); err != nil {
				continue
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func isCreateIndex(stmt string) bool {
	return len(stmt) > 12 && stmt[:12] == "CREATE INDEX"
}

func stripIfNotExists(stmt string) string {
	const marker = "IF NOT EXISTS "
	for i := 0; i+len(marker) <= len(stmt); i++ {
		if stmt[i:i+len(marker)] == marker {
			return stmt[:i] + stmt[i+len(marker):]
		}
	}
	return stmt
}
