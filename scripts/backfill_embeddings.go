//go:build ignore

// Re-embeds stored memories into the configured vector index. Run with:
//
//	go run scripts/backfill_embeddings.go [-dry-run] [-user ID] [-batch N] [-delay 100ms]
//
// Use it after changing the embedding model or dimensions, after switching
// vector backends (chromem <-> store), or after importing rows with
// scripts/migrate_store.go. Upserts are idempotent, so re-running is safe.
package main

import (
	"context"
	"engram/internal/config"
	"engram/internal/crypto"
	"engram/internal/database"
	"engram/internal/oracle"
	"engram/internal/vector"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
)

// BackfillStats tracks backfill statistics
type BackfillStats struct {
	Scanned  int
	Embedded int
	Skipped  int
	Errors   []string
}

func main() {
	// Parse command line flags
	dryRun := flag.Bool("dry-run", false, "Count what would be embedded without calling the oracle")
	userID := flag.String("user", "", "Only backfill memories for this owner")
	batch := flag.Int("batch", 0, "Stop after this many memories (0 = no limit)")
	delay := flag.Duration("delay", 100*time.Millisecond, "Pause between embedding calls")
	flag.Parse()

	fmt.Println("==============================================")
	fmt.Println("🔄 Embedding Backfill")
	fmt.Println("==============================================")
	fmt.Println()
	if *dryRun {
		fmt.Println("🔍 DRY RUN MODE - No oracle calls or index writes")
		fmt.Println()
	}

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found: %v (using environment variables)", err)
	}

	cfg := config.Load()

	fmt.Println("📋 Configuration:")
	fmt.Printf("  Store:     %s\n", cfg.DBDriver)
	fmt.Printf("  Backend:   %s\n", cfg.VectorBackend)
	fmt.Printf("  Provider:  %s\n", cfg.Oracle.Provider)
	fmt.Printf("  Model:     %s (%d dims)\n", cfg.Oracle.EmbeddingModel, cfg.EmbeddingDims)
	fmt.Println()

	dsn := cfg.SQLitePath
	if cfg.DBDriver == "mysql" {
		if cfg.DatabaseURL == "" {
			log.Fatal("❌ DATABASE_URL not set")
		}
		dsn = cfg.DatabaseURL
	}

	fmt.Println("🔗 Connecting to store...")
	db, err := database.New(cfg.DBDriver, dsn)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("✅ Connected")
	fmt.Println()

	oracleService, err := oracle.NewService(cfg.Oracle, cfg.EmbeddingDims)
	if err != nil {
		log.Fatalf("❌ Failed to initialize oracle: %v", err)
	}

	index, err := vector.New(cfg, db)
	if err != nil {
		log.Fatalf("❌ Failed to initialize vector index: %v", err)
	}
	defer index.Close()

	// Encrypted rows need the key to recover embeddable text
	var enc *crypto.EncryptionService
	if cfg.MemoryEncryptionKey != "" {
		enc, err = crypto.NewEncryptionService(cfg.MemoryEncryptionKey)
		if err != nil {
			log.Fatalf("❌ Invalid MEMORY_ENCRYPTION_KEY: %v", err)
		}
	}

	// Archived memories keep their vectors but are never retrieved, so only
	// active rows are worth the oracle spend
	query := "SELECT id, user_id, content FROM memories WHERE is_archived = 0"
	args := []interface{}{}
	if *userID != "" {
		query += " AND user_id = ?"
		args = append(args, *userID)
	}
	query += " ORDER BY created_at"

	rows, err := db.Query(query, args...)
	if err != nil {
		log.Fatalf("❌ Failed to query memories: %v", err)
	}
	defer rows.Close()

	ctx := context.Background()
	stats := &BackfillStats{}

	for rows.Next() {
		if *batch > 0 && stats.Scanned >= *batch {
			fmt.Printf("⏹️  Batch limit reached (%d)\n", *batch)
			break
		}

		var id, owner, content string
		if err := rows.Scan(&id, &owner, &content); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("scan: %v", err))
			continue
		}
		stats.Scanned++

		if enc != nil && crypto.LooksEncrypted(content) {
			plain, err := enc.DecryptString(owner, content)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("decrypt %s: %v", id, err))
				continue
			}
			content = plain
		}

		if content == "" {
			stats.Skipped++
			continue
		}

		if *dryRun {
			stats.Embedded++
			continue
		}

		embedding, err := oracleService.Embed(ctx, content)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("embed %s: %v", id, err))
			continue
		}

		if err := index.Upsert(ctx, owner, id, embedding); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("upsert %s: %v", id, err))
			continue
		}

		stats.Embedded++
		if stats.Embedded%100 == 0 {
			fmt.Printf("   ... %d embedded\n", stats.Embedded)
		}

		if *delay > 0 {
			time.Sleep(*delay)
		}
	}

	// Summary
	fmt.Println()
	fmt.Println("==============================================")
	fmt.Println("📝 Summary")
	fmt.Println("==============================================")
	fmt.Printf("📊 Scanned:  %d memories\n", stats.Scanned)
	if *dryRun {
		fmt.Printf("📊 Would embed: %d\n", stats.Embedded)
	} else {
		fmt.Printf("📊 Embedded: %d\n", stats.Embedded)
	}
	fmt.Printf("📊 Skipped:  %d (empty content)\n", stats.Skipped)

	if len(stats.Errors) > 0 {
		fmt.Printf("\n⚠️  %d errors occurred:\n", len(stats.Errors))
		for i, e := range stats.Errors {
			if i < 10 { // Show first 10
				fmt.Printf("   %d. %s\n", i+1, e)
			}
		}
		if len(stats.Errors) > 10 {
			fmt.Printf("   ... and %d more\n", len(stats.Errors)-10)
		}
	} else {
		fmt.Println("\n✅ No errors!")
	}
	fmt.Println("==============================================")
}
