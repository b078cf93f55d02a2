// Package config loads per-binary configuration from the environment and an
// optional .env file.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/tablease/internal/netutil"
)

var dotenvOnce sync.Once

func loadDotenv() {
	dotenvOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("failed to load .env file", "error", err)
		}
	})
}

// Common holds settings every binary shares.
type Common struct {
	SocketPath string
	LogLevel   string
	LogFile    string
}

func loadCommon(binary string) Common {
	return Common{
		SocketPath: getEnvOrDefault("TABLEASE_SOCKET", netutil.DefaultSocketPath()),
		LogLevel:   strings.ToLower(getEnvOrDefault("TABLEASE_LOG_LEVEL", "info")),
		LogFile:    getEnvOrDefault("TABLEASE_LOG_FILE", filepath.Join("logs", binary+".log")),
	}
}

// siblingBinary prefers an executable next to the running one, then $PATH.
func siblingBinary(name string) string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return name
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		slog.Warn("ignoring non-integer environment value", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	ms := getEnvIntOrDefault(key, int(defaultVal/time.Millisecond))
	if ms < 0 {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
