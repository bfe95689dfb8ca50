package trailflow

import (
	"os"
	"strconv"

	"github.com/raykavin/trailflow/logger/zerolog"
)

// The default logger comes up before any session code runs, configured
// from TRAILFLOW_LOG_* environment variables.
func init() {
	log, err := zerolog.New(
		envOr("TRAILFLOW_LOG_LEVEL", "info"),
		envOr("TRAILFLOW_LOG_TIME_FORMAT", "2006-01-02 15:04:05"),
		envBool("TRAILFLOW_LOG_COLOR", true),
		envBool("TRAILFLOW_LOG_JSON", false),
	)
	if err != nil {
		panic(err)
	}
	DefaultLog = log
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
