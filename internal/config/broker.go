package config

import (
	"txspout/source/broker"
)

// LoadBrokerConfig delegates to the broker loader while centralizing
// loader entrypoints under internal/config. A non-empty driver overrides the
// one in the file before defaults and validation.
func LoadBrokerConfig(path, driver string) (broker.Config, error) {
	return broker.LoadConfig(path, broker.WithDriver(driver))
}
