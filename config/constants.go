package config

import "time"

const (
	// Pinger defaults.
	DefaultListenAddr     = "localhost:26099"
	DefaultForwardAddr    = "127.0.0.1:6200"
	DefaultForwardPayload = "this is a ping to port 6200!"
	DefaultReplyPayload   = "this is a ping to reply!"
	DefaultInterval       = 1 * time.Second
	DefaultBufferSize     = 4096

	// Probe defaults.
	DefaultProbeTargetAddr  = "127.0.0.1:26099"
	DefaultProbePayload     = "Hello from pinger-probe!"
	DefaultProbeTimeout     = 2 * time.Second
	DefaultProbeMaxAttempts = 1

	// Environment overrides.
	EnvListenAddr  = "PINGER_LISTEN_ADDR"
	EnvForwardAddr = "PINGER_FORWARD_ADDR"
	EnvInterval    = "PINGER_INTERVAL"
	EnvMetricsAddr = "PINGER_METRICS_ADDR"
	EnvProbeTarget = "PINGER_PROBE_TARGET"
)
