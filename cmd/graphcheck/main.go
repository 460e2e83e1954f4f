package main

import (
	"database/sql"
	"encoding/json"
	"engram/internal/config"
	"engram/internal/database"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// graphcheck walks the stored memory graph and reports integrity violations:
// supersession cycles, dangling supersession targets, archival rows missing
// their bookkeeping, and orphaned edges or mentions. Read-only; exits 1 when
// any violation is found so it can gate backups and migrations.

const sampleLimit = 10

func main() {
	fmt.Println("==============================================")
	fmt.Println("🔎 Memory Graph Integrity Check")
	fmt.Println("==============================================")
	fmt.Println()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found: %v", err)
	}

	// Load configuration
	cfg := config.Load()

	dsn := cfg.SQLitePath
	if cfg.DBDriver == "mysql" {
		if cfg.DatabaseURL == "" {
			log.Fatal("❌ DATABASE_URL not set")
		}
		dsn = cfg.DatabaseURL
	}

	fmt.Printf("🔗 Connecting to %s store...\n", cfg.DBDriver)
	db, err := database.New(cfg.DBDriver, dsn)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("✅ Connected")
	fmt.Println()

	violations := 0
	violations += checkDanglingSupersession(db)
	violations += checkSupersededStillActive(db)
	violations += checkCrossOwnerSupersession(db)
	violations += checkSupersessionCycles(db)
	violations += checkArchivalBookkeeping(db)
	violations += checkOrphanRelationships(db)
	violations += checkOrphanMentions(db)

	fmt.Println("==============================================")
	fmt.Println("📝 Summary")
	fmt.Println("==============================================")
	if violations == 0 {
		fmt.Println("✅ GRAPH IS CONSISTENT!")
		fmt.Println("   No integrity violations found.")
		fmt.Println("==============================================")
		return
	}

	fmt.Printf("❌ FOUND %d INTEGRITY VIOLATION(S)!\n", violations)
	fmt.Println("   Review the sections above before trusting exports or migrations.")
	fmt.Println("==============================================")
	os.Exit(1)
}

// checkDanglingSupersession finds memories whose superseded_by points at a row
// that no longer exists
func checkDanglingSupersession(db *database.DB) int {
	fmt.Println("🔗 Checking supersession targets...")

	rows, err := db.Query(`
		SELECT m.id, m.superseded_by
		FROM memories m
		LEFT JOIN memories t ON m.superseded_by = t.id
		WHERE m.superseded_by IS NOT NULL AND t.id IS NULL`)
	if err != nil {
		log.Fatalf("❌ Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	var samples []string
	for rows.Next() {
		var id, target string
		if err := rows.Scan(&id, &target); err != nil {
			continue
		}
		count++
		if len(samples) < sampleLimit {
			samples = append(samples, fmt.Sprintf("%s -> %s", id, target))
		}
	}

	reportCheck("Dangling superseded_by", count, samples)
	return count
}

// checkSupersededStillActive finds superseded memories that were never
// archived. Supersession always archives the losing memory, so an active row
// with superseded_by set means a write was interrupted mid-transaction.
func checkSupersededStillActive(db *database.DB) int {
	fmt.Println("📦 Checking superseded memories are archived...")

	rows, err := db.Query(`SELECT id FROM memories WHERE superseded_by IS NOT NULL AND is_archived = 0`)
	if err != nil {
		log.Fatalf("❌ Query failed: %v", err)
	}
	defer rows.Close()

	count, samples := collectIDs(rows)
	reportCheck("Superseded but still active", count, samples)
	return count
}

// checkCrossOwnerSupersession finds supersession edges that cross owner
// boundaries. The ingestion pipeline scopes every candidate search to one
// owner, so these should be impossible.
func checkCrossOwnerSupersession(db *database.DB) int {
	fmt.Println("🔒 Checking supersession stays within owners...")

	rows, err := db.Query(`
		SELECT m.id
		FROM memories m
		JOIN memories t ON m.superseded_by = t.id
		WHERE m.user_id != t.user_id`)
	if err != nil {
		log.Fatalf("❌ Query failed: %v", err)
	}
	defer rows.Close()

	count, samples := collectIDs(rows)
	reportCheck("Cross-owner supersession", count, samples)
	return count
}

// checkSupersessionCycles follows every supersession chain and reports cycles.
// Chains must terminate at an active memory; a cycle would make "newest
// version" undefined for every member.
func checkSupersessionCycles(db *database.DB) int {
	fmt.Println("🔄 Checking supersession chains for cycles...")

	rows, err := db.Query(`SELECT id, superseded_by FROM memories WHERE superseded_by IS NOT NULL`)
	if err != nil {
		log.Fatalf("❌ Query failed: %v", err)
	}
	defer rows.Close()

	next := make(map[string]string)
	for rows.Next() {
		var id string
		var target sql.NullString
		if err := rows.Scan(&id, &target); err != nil {
			continue
		}
		if target.Valid {
			next[id] = target.String
		}
	}

	// Three-color walk: 0 unvisited, 1 on current path, 2 finished
	state := make(map[string]int)
	var cycles []string

	for start := range next {
		if state[start] != 0 {
			continue
		}
		var path []string
		node := start
		for {
			if state[node] == 1 {
				// Found a cycle - trim the path down to the loop itself
				for i, p := range path {
					if p == node {
						cycles = append(cycles, strings.Join(append(path[i:], node), " -> "))
						break
					}
				}
				break
			}
			if state[node] == 2 {
				break
			}
			state[node] = 1
			path = append(path, node)
			target, ok := next[node]
			if !ok {
				break
			}
			node = target
		}
		for _, p := range path {
			state[p] = 2
		}
	}

	samples := cycles
	if len(samples) > sampleLimit {
		samples = samples[:sampleLimit]
	}
	reportCheck("Supersession cycles", len(cycles), samples)
	return len(cycles)
}

// checkArchivalBookkeeping finds archived rows missing their timestamp or
// archive_reason metadata
func checkArchivalBookkeeping(db *database.DB) int {
	fmt.Println("📅 Checking archival bookkeeping...")

	rows, err := db.Query(`
		SELECT id, archived_at, metadata FROM memories WHERE is_archived = 1`)
	if err != nil {
		log.Fatalf("❌ Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	var samples []string
	for rows.Next() {
		var id string
		var archivedAt, metadataJSON sql.NullString
		if err := rows.Scan(&id, &archivedAt, &metadataJSON); err != nil {
			continue
		}

		var problems []string
		if !archivedAt.Valid || archivedAt.String == "" {
			problems = append(problems, "no archived_at")
		}
		if !hasArchiveReason(metadataJSON) {
			problems = append(problems, "no archive_reason")
		}
		if len(problems) == 0 {
			continue
		}

		count++
		if len(samples) < sampleLimit {
			samples = append(samples, fmt.Sprintf("%s (%s)", id, strings.Join(problems, ", ")))
		}
	}

	reportCheck("Archived without bookkeeping", count, samples)
	return count
}

// checkOrphanRelationships finds edges whose source or target memory is gone
func checkOrphanRelationships(db *database.DB) int {
	fmt.Println("🕸️  Checking relationship endpoints...")

	rows, err := db.Query(`
		SELECT r.id
		FROM relationships r
		LEFT JOIN memories s ON r.source_id = s.id
		LEFT JOIN memories t ON r.target_id = t.id
		WHERE s.id IS NULL OR t.id IS NULL`)
	if err != nil {
		log.Fatalf("❌ Query failed: %v", err)
	}
	defer rows.Close()

	count, samples := collectIDs(rows)
	reportCheck("Orphaned relationships", count, samples)
	return count
}

// checkOrphanMentions finds entity mentions whose entity or memory is gone
func checkOrphanMentions(db *database.DB) int {
	fmt.Println("🏷️  Checking entity mentions...")

	rows, err := db.Query(`
		SELECT em.id
		FROM entity_mentions em
		LEFT JOIN entities e ON em.entity_id = e.id
		LEFT JOIN memories m ON em.memory_id = m.id
		WHERE e.id IS NULL OR m.id IS NULL`)
	if err != nil {
		log.Fatalf("❌ Query failed: %v", err)
	}
	defer rows.Close()

	count, samples := collectIDs(rows)
	reportCheck("Orphaned entity mentions", count, samples)
	return count
}

func collectIDs(rows *sql.Rows) (int, []string) {
	count := 0
	var samples []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		count++
		if len(samples) < sampleLimit {
			samples = append(samples, id)
		}
	}
	return count, samples
}

func hasArchiveReason(metadataJSON sql.NullString) bool {
	if !metadataJSON.Valid || metadataJSON.String == "" {
		return false
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
		return false
	}
	reason, ok := metadata["archive_reason"].(string)
	return ok && reason != ""
}

func reportCheck(name string, count int, samples []string) {
	if count == 0 {
		fmt.Printf("  ✅ %s: none found\n", name)
		fmt.Println()
		return
	}

	fmt.Printf("  ❌ %s: %d found\n", name, count)
	for _, s := range samples {
		fmt.Printf("     - %s\n", s)
	}
	if count > len(samples) {
		fmt.Printf("     ... and %d more\n", count-len(samples))
	}
	fmt.Println()
}
