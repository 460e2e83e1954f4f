//go:build ignore

// Copies an SQLite memory store into MySQL. Run with:
//
//	MYSQL_DSN="user:pass@tcp(host:3306)/engram" go run scripts/migrate_store.go
//
// The target schema must already exist (start the server once against MySQL,
// or apply internal/database/schema.go by hand). The whole copy runs in one
// MySQL transaction, so a failed run leaves the target untouched.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

type MigrationStats struct {
	Users          int
	Memories       int
	Relationships  int
	Entities       int
	EntityMentions int
	MemoryVectors  int
	OwnerSettings  int
	APIKeys        int
	Errors         []string
}

func main() {
	// Read configuration from environment
	sqlitePath := getEnv("SQLITE_PATH", "./data/engram.db")
	mysqlDSN := getEnv("MYSQL_DSN", "")

	if mysqlDSN == "" {
		log.Fatal("❌ MYSQL_DSN environment variable required\n   Format: user:pass@tcp(host:port)/dbname")
	}

	log.Println("🔄 Starting SQLite → MySQL migration...")
	log.Printf("   SQLite: %s", sqlitePath)
	log.Printf("   MySQL:  %s\n", maskDSN(mysqlDSN))

	// Open databases
	sqliteDB, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		log.Fatalf("❌ Failed to open SQLite: %v", err)
	}
	defer sqliteDB.Close()

	mysqlDB, err := sql.Open("mysql", mysqlDSN+"?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci")
	if err != nil {
		log.Fatalf("❌ Failed to open MySQL: %v", err)
	}
	defer mysqlDB.Close()

	// Test connections
	if err := sqliteDB.Ping(); err != nil {
		log.Fatalf("❌ SQLite connection failed: %v", err)
	}
	if err := mysqlDB.Ping(); err != nil {
		log.Fatalf("❌ MySQL connection failed: %v", err)
	}

	log.Println("✅ Database connections established\n")

	// Run migration
	stats := &MigrationStats{}

	// Start transaction for atomicity
	tx, err := mysqlDB.Begin()
	if err != nil {
		log.Fatalf("❌ Failed to start transaction: %v", err)
	}
	defer tx.Rollback() // Rollback if we don't commit

	// Migrate owners first, then the graph, then the per-owner extras
	steps := []struct {
		name string
		fn   func(*sql.DB, *sql.Tx, *MigrationStats) error
	}{
		{"users", migrateUsers},
		{"memories", migrateMemories},
		{"relationships", migrateRelationships},
		{"entities", migrateEntities},
		{"entity_mentions", migrateEntityMentions},
		{"memory_vectors", migrateMemoryVectors},
		{"owner_settings", migrateOwnerSettings},
		{"api_keys", migrateAPIKeys},
	}

	for _, step := range steps {
		log.Printf("📦 Migrating %s...", step.name)
		if err := step.fn(sqliteDB, tx, stats); err != nil {
			log.Printf("❌ %s migration failed: %v\n", step.name, err)
			log.Println("⚠️  Transaction will be rolled back")
			return
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		log.Fatalf("❌ Failed to commit transaction: %v", err)
	}

	// Print summary
	printSummary(stats)
}

func migrateUsers(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	rows, err := sqlite.Query(`
		SELECT id, email, password_hash, email_verified, role,
		       refresh_token_version, created_at, last_login_at
		FROM users
		ORDER BY created_at
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO users (id, email, password_hash, email_verified, role,
		                   refresh_token_version, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			id, email, passwordHash, role     string
			emailVerified, refreshVersion     int
			createdAt, lastLoginAt            string
		)

		if err := rows.Scan(&id, &email, &passwordHash, &emailVerified, &role,
			&refreshVersion, &createdAt, &lastLoginAt); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("user scan: %v", err))
			continue
		}

		_, err := stmt.Exec(id, email, passwordHash, emailVerified, role,
			refreshVersion, createdAt, lastLoginAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("user insert %s: %v", email, err))
			continue
		}
		stats.Users++
	}

	log.Printf("   ✅ Migrated %d users\n", stats.Users)
	return nil
}

func migrateMemories(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	// Content moves verbatim: encrypted rows stay encrypted, the key never
	// enters this script
	rows, err := sqlite.Query(`
		SELECT id, user_id, content, content_hash, source_url, category,
		       importance, tags, access_count, last_accessed, expires_at,
		       is_archived, archived_at, superseded_by, metadata,
		       created_at, updated_at
		FROM memories
		ORDER BY created_at
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO memories (id, user_id, content, content_hash, source_url, category,
		                      importance, tags, access_count, last_accessed, expires_at,
		                      is_archived, archived_at, superseded_by, metadata,
		                      created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			id, userID, content, contentHash, category    string
			sourceURL, tags, lastAccessed                 sql.NullString
			archivedAt, supersededBy, metadata            sql.NullString
			importance                                    float64
			accessCount, isArchived                       int
			expiresAt, createdAt, updatedAt               string
		)

		if err := rows.Scan(&id, &userID, &content, &contentHash, &sourceURL, &category,
			&importance, &tags, &accessCount, &lastAccessed, &expiresAt,
			&isArchived, &archivedAt, &supersededBy, &metadata,
			&createdAt, &updatedAt); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("memory scan: %v", err))
			continue
		}

		_, err := stmt.Exec(id, userID, content, contentHash, sourceURL, category,
			importance, tags, accessCount, lastAccessed, expiresAt,
			isArchived, archivedAt, supersededBy, metadata,
			createdAt, updatedAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("memory insert %s: %v", id, err))
			continue
		}
		stats.Memories++
	}

	log.Printf("   ✅ Migrated %d memories\n", stats.Memories)
	return nil
}

func migrateRelationships(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	rows, err := sqlite.Query(`
		SELECT id, source_id, target_id, type, strength, created_at
		FROM relationships
		ORDER BY created_at
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO relationships (id, source_id, target_id, type, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			id, sourceID, targetID, relType string
			strength                        float64
			createdAt                       string
		)

		if err := rows.Scan(&id, &sourceID, &targetID, &relType, &strength, &createdAt); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("relationship scan: %v", err))
			continue
		}

		_, err := stmt.Exec(id, sourceID, targetID, relType, strength, createdAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("relationship insert %s: %v", id, err))
			continue
		}
		stats.Relationships++
	}

	log.Printf("   ✅ Migrated %d relationships\n", stats.Relationships)
	return nil
}

func migrateEntities(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	rows, err := sqlite.Query(`
		SELECT id, user_id, type, value, mention_count, first_seen, last_seen
		FROM entities
		ORDER BY first_seen
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO entities (id, user_id, type, value, mention_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			id, userID, entityType, value  string
			mentionCount                   int
			firstSeen, lastSeen            string
		)

		if err := rows.Scan(&id, &userID, &entityType, &value, &mentionCount, &firstSeen, &lastSeen); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("entity scan: %v", err))
			continue
		}

		_, err := stmt.Exec(id, userID, entityType, value, mentionCount, firstSeen, lastSeen)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("entity insert %s: %v", id, err))
			continue
		}
		stats.Entities++
	}

	log.Printf("   ✅ Migrated %d entities\n", stats.Entities)
	return nil
}

func migrateEntityMentions(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	rows, err := sqlite.Query(`
		SELECT id, entity_id, memory_id, context, created_at
		FROM entity_mentions
		ORDER BY created_at
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO entity_mentions (id, entity_id, memory_id, context, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			id, entityID, memoryID string
			context                sql.NullString
			createdAt              string
		)

		if err := rows.Scan(&id, &entityID, &memoryID, &context, &createdAt); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("mention scan: %v", err))
			continue
		}

		_, err := stmt.Exec(id, entityID, memoryID, context, createdAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("mention insert %s: %v", id, err))
			continue
		}
		stats.EntityMentions++
	}

	log.Printf("   ✅ Migrated %d entity mentions\n", stats.EntityMentions)
	return nil
}

func migrateMemoryVectors(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	// Only populated by the "store" vector backend; chromem keeps vectors in
	// its own directory and needs scripts/backfill_embeddings.go instead
	rows, err := sqlite.Query(`
		SELECT memory_id, user_id, embedding, dims, created_at
		FROM memory_vectors
		ORDER BY created_at
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO memory_vectors (memory_id, user_id, embedding, dims, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			memoryID, userID string
			embedding        []byte
			dims             int
			createdAt        string
		)

		if err := rows.Scan(&memoryID, &userID, &embedding, &dims, &createdAt); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("vector scan: %v", err))
			continue
		}

		_, err := stmt.Exec(memoryID, userID, embedding, dims, createdAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("vector insert %s: %v", memoryID, err))
			continue
		}
		stats.MemoryVectors++
	}

	if stats.MemoryVectors > 0 {
		log.Printf("   ✅ Migrated %d memory vectors\n", stats.MemoryVectors)
	}
	return nil
}

func migrateOwnerSettings(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	rows, err := sqlite.Query(`
		SELECT user_id, retention_days, digest_enabled, digest_chat_id, updated_at
		FROM owner_settings
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO owner_settings (user_id, retention_days, digest_enabled, digest_chat_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			userID        string
			retentionDays int
			digestEnabled int
			digestChatID  sql.NullString
			updatedAt     string
		)

		if err := rows.Scan(&userID, &retentionDays, &digestEnabled, &digestChatID, &updatedAt); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("settings scan: %v", err))
			continue
		}

		_, err := stmt.Exec(userID, retentionDays, digestEnabled, digestChatID, updatedAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("settings insert %s: %v", userID, err))
			continue
		}
		stats.OwnerSettings++
	}

	if stats.OwnerSettings > 0 {
		log.Printf("   ✅ Migrated %d owner settings\n", stats.OwnerSettings)
	}
	return nil
}

func migrateAPIKeys(sqlite *sql.DB, mysql *sql.Tx, stats *MigrationStats) error {
	rows, err := sqlite.Query(`
		SELECT id, user_id, key_prefix, key_hash, name, description, scopes,
		       rate_limit, last_used_at, revoked_at, expires_at, created_at, updated_at
		FROM api_keys
		ORDER BY created_at
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			log.Println("   ⚠️  Table doesn't exist in SQLite, skipping")
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stmt, err := mysql.Prepare(`
		INSERT INTO api_keys (id, user_id, key_prefix, key_hash, name, description, scopes,
		                      rate_limit, last_used_at, revoked_at, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var (
			id, userID, keyPrefix, keyHash, name, scopes      string
			description, rateLimit, lastUsedAt                sql.NullString
			revokedAt, expiresAt                              sql.NullString
			createdAt, updatedAt                              string
		)

		if err := rows.Scan(&id, &userID, &keyPrefix, &keyHash, &name, &description, &scopes,
			&rateLimit, &lastUsedAt, &revokedAt, &expiresAt, &createdAt, &updatedAt); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("api key scan: %v", err))
			continue
		}

		_, err := stmt.Exec(id, userID, keyPrefix, keyHash, name, description, scopes,
			rateLimit, lastUsedAt, revokedAt, expiresAt, createdAt, updatedAt)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("api key insert %s: %v", id, err))
			continue
		}
		stats.APIKeys++
	}

	if stats.APIKeys > 0 {
		log.Printf("   ✅ Migrated %d API keys\n", stats.APIKeys)
	}
	return nil
}

func printSummary(stats *MigrationStats) {
	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("✅ MIGRATION COMPLETE")
	log.Println(strings.Repeat("=", 60))
	log.Printf("📊 Users:           %d migrated\n", stats.Users)
	log.Printf("📊 Memories:        %d migrated\n", stats.Memories)
	log.Printf("📊 Relationships:   %d migrated\n", stats.Relationships)
	log.Printf("📊 Entities:        %d migrated\n", stats.Entities)
	log.Printf("📊 Entity Mentions: %d migrated\n", stats.EntityMentions)
	if stats.MemoryVectors > 0 {
		log.Printf("📊 Memory Vectors:  %d migrated\n", stats.MemoryVectors)
	}
	if stats.OwnerSettings > 0 {
		log.Printf("📊 Owner Settings:  %d migrated\n", stats.OwnerSettings)
	}
	if stats.APIKeys > 0 {
		log.Printf("📊 API Keys:        %d migrated\n", stats.APIKeys)
	}

	if len(stats.Errors) > 0 {
		log.Printf("\n⚠️  %d errors occurred:\n", len(stats.Errors))
		for i, err := range stats.Errors {
			if i < 10 { // Show first 10
				log.Printf("   %d. %s\n", i+1, err)
			}
		}
		if len(stats.Errors) > 10 {
			log.Printf("   ... and %d more\n", len(stats.Errors)-10)
		}
	} else {
		log.Println("\n✅ No errors - perfect migration!")
	}
	log.Println(strings.Repeat("=", 60))
}

// Helper functions
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func maskDSN(dsn string) string {
	// Mask password in DSN for logging
	// user:pass@tcp(host:port)/dbname → user:***@tcp(host:port)/dbname
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return dsn
	}
	userPass := strings.Split(parts[0], ":")
	if len(userPass) < 2 {
		return dsn
	}
	return userPass[0] + ":***@" + parts[1]
}
