package config

import "github.com/google/uuid"

// ClientConfig configures the tablease CLI.
type ClientConfig struct {
	Common
	BrokerBin string
	SessionID string
	AutoStart bool
}

// LoadClient reads client configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	loadDotenv()
	return &ClientConfig{
		Common:    loadCommon("tablease"),
		BrokerBin: getEnvOrDefault("TABLEASE_BROKER_BIN", siblingBinary("tablease-broker")),
		SessionID: getEnvOrDefault("TABLEASE_SESSION_ID", uuid.NewString()),
		AutoStart: getEnvBoolOrDefault("TABLEASE_AUTOSTART", true),
	}, nil
}
