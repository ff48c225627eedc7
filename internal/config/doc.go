// Package config provides configuration loading and validation for the broadcast
// audio service. It handles YAML-based configuration with per-section validation
// covering the control API, UDP audio ingest, broadcast sessions, webhook
// notifications, and logging.
package config
