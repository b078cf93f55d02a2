package config

import (
	"strconv"
	"time"
)

// HostConfig configures tablease-host, the CDP-backed extension host.
type HostConfig struct {
	Common

	CDPAddress  string
	CDPPort     int
	CallTimeout time.Duration

	RelayBin string

	LaunchBrowser bool
	ProfileDir    string

	StartupTabsPath string
	SnapshotDir     string
	DownloadDir     string
}

// LoadHost reads host configuration from environment variables.
func LoadHost() (*HostConfig, error) {
	loadDotenv()
	cfg := &HostConfig{
		Common:          loadCommon("tablease-host"),
		CDPAddress:      getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:         getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		CallTimeout:     getEnvMillisOrDefault("TABLEASE_CDP_TIMEOUT_MS", 30*time.Second),
		RelayBin:        getEnvOrDefault("TABLEASE_RELAY_BIN", siblingBinary("tablease-relay")),
		LaunchBrowser:   getEnvBoolOrDefault("TABLEASE_LAUNCH_BROWSER", false),
		ProfileDir:      getEnvOrDefault("TABLEASE_PROFILE_DIR", "./chrome-profile"),
		StartupTabsPath: getEnvOrDefault("TABLEASE_STARTUP_TABS", "./config/startup_tabs.yaml"),
		SnapshotDir:     getEnvOrDefault("TABLEASE_SNAPSHOT_DIR", "./snapshots"),
		DownloadDir:     getEnvOrDefault("TABLEASE_DOWNLOAD_DIR", "./downloads"),
	}
	if cfg.CallTimeout < time.Second {
		cfg.CallTimeout = time.Second
	}
	return cfg, nil
}

// CDPURL returns the DevTools HTTP endpoint.
func (c *HostConfig) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}
