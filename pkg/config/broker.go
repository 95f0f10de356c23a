package config

import "time"

// BrokerConfig contains SSE fan-out broker configuration.
type BrokerConfig struct {
	// SubscriberBuffer is the per-subscriber event queue capacity.
	// When a queue is full, new events for that subscriber are dropped.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// KeepaliveInterval is the idle heartbeat period on SSE streams.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// DefaultBrokerConfig returns the built-in broker defaults.
func DefaultBrokerConfig() *BrokerConfig {
	return &BrokerConfig{
		SubscriberBuffer:  100,
		KeepaliveInterval: 30 * time.Second,
	}
}
