package mqtt

import "errors"

// Configuration errors
var (
	ErrInvalidServerURL = errors.New("invalid MQTT server URL")
	ErrInvalidQoS       = errors.New("invalid MQTT QoS")
)

// Broker operation errors
var (
	ErrConnect   = errors.New("failed to connect to MQTT broker")
	ErrPublish   = errors.New("failed to publish MQTT message")
	ErrSubscribe = errors.New("failed to subscribe to MQTT topic")
)
