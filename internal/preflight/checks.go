package preflight

import (
	"engram/internal/config"
	"engram/internal/crypto"
	"engram/internal/database"
	"fmt"
	"log"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	db  *database.DB
	cfg *config.Config
}

// NewChecker creates a new preflight checker
func NewChecker(db *database.DB, cfg *config.Config) *Checker {
	return &Checker{
		db:  db,
		cfg: cfg,
	}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkDatabaseConnection(),
		c.checkDatabaseSchema(),
		c.checkEncryptionState(),
		c.checkJWTSecret(),
		c.checkOracleConfig(),
	}

	// Print summary
	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("\n📊 Pre-flight summary: %d passed, %d failed, %d warnings\n", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkDatabaseConnection verifies database connectivity
func (c *Checker) checkDatabaseConnection() CheckResult {
	if err := c.db.Ping(); err != nil {
		return CheckResult{
			Name:    "Database Connection",
			Status:  "fail",
			Message: "Cannot connect to database",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Database Connection",
		Status:  "pass",
		Message: "Database connection successful",
	}
}

// checkDatabaseSchema verifies all required tables exist
func (c *Checker) checkDatabaseSchema() CheckResult {
	requiredTables := []string{
		"memories",
		"relationships",
		"entities",
		"entity_mentions",
		"memory_vectors",
		"users",
		"owner_settings",
		"api_keys",
	}

	// Table existence query differs per driver
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if c.db.Driver == "mysql" {
		query = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	}

	for _, table := range requiredTables {
		var count int
		err := c.db.QueryRow(query, table).Scan(&count)
		if err != nil || count == 0 {
			return CheckResult{
				Name:    "Database Schema",
				Status:  "fail",
				Message: fmt.Sprintf("Required table '%s' not found", table),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Database Schema",
		Status:  "pass",
		Message: fmt.Sprintf("All %d required tables exist", len(requiredTables)),
	}
}

// checkEncryptionState verifies the encryption key matches the stored rows.
// Starting without a key while encrypted rows exist would serve ciphertext to
// clients; starting with the wrong key would make every encrypted row
// unreadable. Both are caught here by sampling recent rows.
func (c *Checker) checkEncryptionState() CheckResult {
	rows, err := c.db.Query("SELECT user_id, content FROM memories ORDER BY created_at DESC LIMIT 10")
	if err != nil {
		return CheckResult{
			Name:    "Encryption State",
			Status:  "fail",
			Message: "Cannot sample memory rows",
			Error:   err,
		}
	}
	defer rows.Close()

	type sampleRow struct {
		userID  string
		content string
	}
	var encrypted, plaintext []sampleRow
	for rows.Next() {
		var r sampleRow
		if err := rows.Scan(&r.userID, &r.content); err != nil {
			continue
		}
		if crypto.LooksEncrypted(r.content) {
			encrypted = append(encrypted, r)
		} else {
			plaintext = append(plaintext, r)
		}
	}

	if c.cfg.MemoryEncryptionKey == "" {
		if len(encrypted) > 0 {
			return CheckResult{
				Name:    "Encryption State",
				Status:  "fail",
				Message: fmt.Sprintf("%d of %d sampled rows are encrypted but MEMORY_ENCRYPTION_KEY is not set", len(encrypted), len(encrypted)+len(plaintext)),
			}
		}
		return CheckResult{
			Name:    "Encryption State",
			Status:  "pass",
			Message: "Encryption disabled, no encrypted rows found",
		}
	}

	enc, err := crypto.NewEncryptionService(c.cfg.MemoryEncryptionKey)
	if err != nil {
		return CheckResult{
			Name:    "Encryption State",
			Status:  "fail",
			Message: "MEMORY_ENCRYPTION_KEY is invalid (expected 64 hex characters)",
			Error:   err,
		}
	}

	for _, r := range encrypted {
		if _, err := enc.DecryptString(r.userID, r.content); err != nil {
			return CheckResult{
				Name:    "Encryption State",
				Status:  "fail",
				Message: "Sampled encrypted row failed to decrypt - MEMORY_ENCRYPTION_KEY does not match existing data",
				Error:   err,
			}
		}
	}

	if len(plaintext) > 0 {
		return CheckResult{
			Name:    "Encryption State",
			Status:  "warning",
			Message: fmt.Sprintf("%d of %d sampled rows predate encryption and remain plaintext (readable, but not encrypted at rest)", len(plaintext), len(encrypted)+len(plaintext)),
		}
	}

	return CheckResult{
		Name:    "Encryption State",
		Status:  "pass",
		Message: "Encryption key matches stored rows",
	}
}

// checkJWTSecret verifies authentication configuration for the environment
func (c *Checker) checkJWTSecret() CheckResult {
	if c.cfg.JWTSecret == "" {
		if c.cfg.Environment == "production" {
			return CheckResult{
				Name:    "JWT Secret",
				Status:  "fail",
				Message: "JWT_SECRET is required in production. Generate with: openssl rand -hex 64",
			}
		}
		return CheckResult{
			Name:    "JWT Secret",
			Status:  "warning",
			Message: "JWT_SECRET not set - authentication disabled (development mode)",
		}
	}

	if len(c.cfg.JWTSecret) < 32 {
		return CheckResult{
			Name:    "JWT Secret",
			Status:  "warning",
			Message: "JWT_SECRET is shorter than 32 characters. Generate a stronger one with: openssl rand -hex 64",
		}
	}

	return CheckResult{
		Name:    "JWT Secret",
		Status:  "pass",
		Message: "JWT secret configured",
	}
}

// checkOracleConfig sanity-checks the oracle provider settings. Misconfigured
// providers fail later at first use, so these are warnings, not failures.
func (c *Checker) checkOracleConfig() CheckResult {
	provider := c.cfg.Oracle.Provider
	if provider == "" {
		provider = "openai"
	}

	if provider == "mock" && c.cfg.Environment == "production" {
		return CheckResult{
			Name:    "Oracle Config",
			Status:  "warning",
			Message: "ORACLE_PROVIDER=mock in production - embeddings and classification are deterministic stubs",
		}
	}

	if provider == "openai" && c.cfg.Oracle.APIKey == "" {
		return CheckResult{
			Name:    "Oracle Config",
			Status:  "warning",
			Message: "ORACLE_API_KEY not set - oracle calls will fail until configured",
		}
	}

	return CheckResult{
		Name:    "Oracle Config",
		Status:  "pass",
		Message: fmt.Sprintf("Oracle provider '%s' configured", provider),
	}
}

// QuickCheck runs minimal checks for fast startup
func (c *Checker) QuickCheck() []CheckResult {
	log.Println("⚡ Running quick pre-flight checks...")

	results := []CheckResult{
		c.checkDatabaseConnection(),
	}

	passed := 0
	failed := 0

	for _, result := range results {
		if result.Status == "pass" {
			log.Printf("   ✅ %s", result.Name)
			passed++
		} else if result.Status == "fail" {
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			failed++
		}
	}

	return results
}
