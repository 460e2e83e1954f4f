package database

// All timestamps are RFC3339 UTC strings so the same read/write paths work on
// both backends and string order equals chronological order. Booleans are 0/1
// integers for the same reason.

// sqliteSchema creates the full schema on the embedded backend.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id            VARCHAR(36) PRIMARY KEY,
		user_id       VARCHAR(255) NOT NULL,
		content       TEXT NOT NULL,
		content_hash  VARCHAR(64) NOT NULL,
		source_url    TEXT,
		category      VARCHAR(32) NOT NULL,
		importance    REAL NOT NULL DEFAULT 0.5,
		tags          TEXT,
		access_count  INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT,
		expires_at    TEXT NOT NULL,
		is_archived   INTEGER NOT NULL DEFAULT 0,
		archived_at   TEXT,
		superseded_by VARCHAR(36),
		metadata      TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_owner_active ON memories(user_id, is_archived)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_owner_category ON memories(user_id, category)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_owner_expiry ON memories(user_id, expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_owner_hash ON memories(user_id, content_hash)`,

	`CREATE TABLE IF NOT EXISTS relationships (
		id         VARCHAR(36) PRIMARY KEY,
		source_id  VARCHAR(36) NOT NULL,
		target_id  VARCHAR(36) NOT NULL,
		type       VARCHAR(20) NOT NULL,
		strength   REAL NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (source_id, target_id, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id            VARCHAR(36) PRIMARY KEY,
		user_id       VARCHAR(255) NOT NULL,
		type          VARCHAR(20) NOT NULL,
		value         VARCHAR(500) NOT NULL,
		mention_count INTEGER NOT NULL DEFAULT 0,
		first_seen    TEXT NOT NULL,
		last_seen     TEXT NOT NULL,
		UNIQUE (user_id, type, value)
	)`,

	`CREATE TABLE IF NOT EXISTS entity_mentions (
		id         VARCHAR(36) PRIMARY KEY,
		entity_id  VARCHAR(36) NOT NULL,
		memory_id  VARCHAR(36) NOT NULL,
		context    TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (entity_id, memory_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mentions_entity ON entity_mentions(entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mentions_memory ON entity_mentions(memory_id)`,

	`CREATE TABLE IF NOT EXISTS memory_vectors (
		memory_id  VARCHAR(36) PRIMARY KEY,
		user_id    VARCHAR(255) NOT NULL,
		embedding  BLOB NOT NULL,
		dims       INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vectors_owner ON memory_vectors(user_id)`,

	`CREATE TABLE IF NOT EXISTS users (
		id                    VARCHAR(36) PRIMARY KEY,
		email                 VARCHAR(255) NOT NULL UNIQUE,
		password_hash         VARCHAR(255) NOT NULL,
		email_verified        INTEGER NOT NULL DEFAULT 0,
		role                  VARCHAR(20) NOT NULL DEFAULT 'user',
		refresh_token_version INTEGER NOT NULL DEFAULT 0,
		created_at            TEXT NOT NULL,
		last_login_at         TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS owner_settings (
		user_id        VARCHAR(255) PRIMARY KEY,
		retention_days INTEGER NOT NULL DEFAULT 30,
		digest_enabled INTEGER NOT NULL DEFAULT 0,
		digest_chat_id VARCHAR(64),
		updated_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id           VARCHAR(36) PRIMARY KEY,
		user_id      VARCHAR(255) NOT NULL,
		key_prefix   VARCHAR(16) NOT NULL,
		key_hash     VARCHAR(255) NOT NULL,
		name         VARCHAR(255) NOT NULL,
		description  TEXT,
		scopes       TEXT NOT NULL,
		rate_limit   TEXT,
		last_used_at TEXT,
		revoked_at   TEXT,
		expires_at   TEXT,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
}

// mysqlSchema mirrors sqliteSchema. MySQL has no CREATE INDEX IF NOT EXISTS,
// so indexes are declared inline.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id            VARCHAR(36) PRIMARY KEY,
		user_id       VARCHAR(255) NOT NULL,
		content       TEXT NOT NULL,
		content_hash  VARCHAR(64) NOT NULL,
		source_url    TEXT,
		category      VARCHAR(32) NOT NULL,
		importance    DOUBLE NOT NULL DEFAULT 0.5,
		tags          TEXT,
		access_count  BIGINT NOT NULL DEFAULT 0,
		last_accessed VARCHAR(35),
		expires_at    VARCHAR(35) NOT NULL,
		is_archived   TINYINT(1) NOT NULL DEFAULT 0,
		archived_at   VARCHAR(35),
		superseded_by VARCHAR(36),
		metadata      TEXT,
		created_at    VARCHAR(35) NOT NULL,
		updated_at    VARCHAR(35) NOT NULL,
		INDEX idx_memories_owner_active (user_id, is_archived),
		INDEX idx_memories_owner_category (user_id, category),
		INDEX idx_memories_owner_expiry (user_id, expires_at),
		INDEX idx_memories_owner_hash (user_id, content_hash)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS relationships (
		id         VARCHAR(36) PRIMARY KEY,
		source_id  VARCHAR(36) NOT NULL,
		target_id  VARCHAR(36) NOT NULL,
		type       VARCHAR(20) NOT NULL,
		strength   DOUBLE NOT NULL,
		created_at VARCHAR(35) NOT NULL,
		UNIQUE KEY uq_relationship (source_id, target_id, type),
		INDEX idx_relationships_source (source_id),
		INDEX idx_relationships_target (target_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS entities (
		id            VARCHAR(36) PRIMARY KEY,
		user_id       VARCHAR(255) NOT NULL,
		type          VARCHAR(20) NOT NULL,
		value         VARCHAR(500) NOT NULL,
		mention_count BIGINT NOT NULL DEFAULT 0,
		first_seen    VARCHAR(35) NOT NULL,
		last_seen     VARCHAR(35) NOT NULL,
		UNIQUE KEY uq_entity (user_id, type, value)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS entity_mentions (
		id         VARCHAR(36) PRIMARY KEY,
		entity_id  VARCHAR(36) NOT NULL,
		memory_id  VARCHAR(36) NOT NULL,
		context    TEXT,
		created_at VARCHAR(35) NOT NULL,
		UNIQUE KEY uq_mention (entity_id, memory_id),
		INDEX idx_mentions_entity (entity_id),
		INDEX idx_mentions_memory (memory_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS memory_vectors (
		memory_id  VARCHAR(36) PRIMARY KEY,
		user_id    VARCHAR(255) NOT NULL,
		embedding  BLOB NOT NULL,
		dims       INT NOT NULL,
		created_at VARCHAR(35) NOT NULL,
		INDEX idx_vectors_owner (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS users (
		id                    VARCHAR(36) PRIMARY KEY,
		email                 VARCHAR(255) NOT NULL UNIQUE,
		password_hash         VARCHAR(255) NOT NULL,
		email_verified        TINYINT(1) NOT NULL DEFAULT 0,
		role                  VARCHAR(20) NOT NULL DEFAULT 'user',
		refresh_token_version INT NOT NULL DEFAULT 0,
		created_at            VARCHAR(35) NOT NULL,
		last_login_at         VARCHAR(35) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS owner_settings (
		user_id        VARCHAR(255) PRIMARY KEY,
		retention_days INT NOT NULL DEFAULT 30,
		digest_enabled TINYINT(1) NOT NULL DEFAULT 0,
		digest_chat_id VARCHAR(64),
		updated_at     VARCHAR(35) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id           VARCHAR(36) PRIMARY KEY,
		user_id      VARCHAR(255) NOT NULL,
		key_prefix   VARCHAR(16) NOT NULL,
		key_hash     VARCHAR(255) NOT NULL,
		name         VARCHAR(255) NOT NULL,
		description  TEXT,
		scopes       TEXT NOT NULL,
		rate_limit   TEXT,
		last_used_at VARCHAR(35),
		revoked_at   VARCHAR(35),
		expires_at   VARCHAR(35),
		created_at   VARCHAR(35) NOT NULL,
		updated_at   VARCHAR(35) NOT NULL,
		INDEX idx_api_keys_owner (user_id),
		INDEX idx_api_keys_prefix (key_prefix)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}
