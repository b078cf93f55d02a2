package config

import (
	"fmt"
	"strconv"
	"time"
)

// Backends the broker can forward tool calls to.
const (
	BackendExtension = "extension"
	BackendCDP       = "cdp"
)

// BrokerConfig configures tablease-broker.
type BrokerConfig struct {
	Common

	LeaseTTL       time.Duration
	RequestTimeout time.Duration
	Backend        string

	HTTPAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	AuditDir  string
	NotifyURL string

	CDPAddress  string
	CDPPort     int
	CallTimeout time.Duration
	SnapshotDir string
	DownloadDir string
}

// LoadBroker reads broker configuration from environment variables.
func LoadBroker() (*BrokerConfig, error) {
	loadDotenv()
	cfg := &BrokerConfig{
		Common:           loadCommon("tablease-broker"),
		LeaseTTL:         getEnvMillisOrDefault("TABLEASE_LEASE_TTL_MS", 5*time.Minute),
		RequestTimeout:   getEnvMillisOrDefault("TABLEASE_REQUEST_TIMEOUT_MS", 60*time.Second),
		Backend:          getEnvOrDefault("TABLEASE_BACKEND", BackendExtension),
		HTTPAddr:         getEnvOrDefault("TABLEASE_HTTP_ADDR", ""),
		PortCandidates:   getEnvListOrDefault("TABLEASE_HTTP_PORT_CANDIDATES", nil),
		PortAutoFallback: getEnvBoolOrDefault("TABLEASE_HTTP_PORT_AUTO_FALLBACK", true),
		AuditDir:         getEnvOrDefault("TABLEASE_AUDIT_DIR", ""),
		NotifyURL:        getEnvOrDefault("TABLEASE_NOTIFY_URL", ""),
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		CallTimeout:      getEnvMillisOrDefault("TABLEASE_CDP_TIMEOUT_MS", 30*time.Second),
		SnapshotDir:      getEnvOrDefault("TABLEASE_SNAPSHOT_DIR", "./snapshots"),
		DownloadDir:      getEnvOrDefault("TABLEASE_DOWNLOAD_DIR", "./downloads"),
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	switch cfg.Backend {
	case BackendExtension, BackendCDP:
	default:
		return nil, fmt.Errorf("broker config: unsupported TABLEASE_BACKEND %q (want %q or %q)", cfg.Backend, BackendExtension, BackendCDP)
	}
	return cfg, nil
}

// CDPURL returns the DevTools HTTP endpoint used by the cdp backend.
func (c *BrokerConfig) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}
