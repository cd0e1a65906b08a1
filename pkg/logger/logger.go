package logger

import (
	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

// New builds the zap backed logger for environment ("development" or
// "production"). An empty environment means development.
func New(environment sdklogging.LogLevel) (Logger, error) {
	if environment == "" {
		environment = sdklogging.Development
	}
	return sdklogging.NewZapLogger(environment)
}
