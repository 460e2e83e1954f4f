package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithOwner returns a logger with the owner attached.
// Use this for all logging on owner-scoped graph operations.
func WithOwner(userID string) *slog.Logger {
	return slog.With("user_id", userID)
}

// WithIngestion returns a logger scoped to a single ingestion run.
func WithIngestion(userID, memoryID string) *slog.Logger {
	return slog.With(
		"user_id", userID,
		"memory_id", memoryID,
	)
}

// WithOracle returns a logger scoped to one oracle call.
func WithOracle(logger *slog.Logger, oracle, model string) *slog.Logger {
	return logger.With(
		"oracle", oracle,
		"model", model,
	)
}

// TruncateContent shortens memory text for log lines. Full content never
// reaches the logs; 50 runes is enough to identify the row.
func TruncateContent(content string) string {
	const max = 50
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}
