package config

// RelayConfig configures tablease-relay, the native messaging host.
type RelayConfig struct {
	Common
	BrokerBin string
}

// LoadRelay reads relay configuration from environment variables.
func LoadRelay() (*RelayConfig, error) {
	loadDotenv()
	return &RelayConfig{
		Common:    loadCommon("tablease-relay"),
		BrokerBin: getEnvOrDefault("TABLEASE_BROKER_BIN", siblingBinary("tablease-broker")),
	}, nil
}
