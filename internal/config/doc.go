// Package config handles configuration loading for topicmesh.
//
// # Overview
//
// Configuration is read from YAML, or TOML when the file ends in ".toml".
// Values not present in the file keep the defaults from Default.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOPICMESH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/topicmesh/config.yaml
//  3. ~/.config/topicmesh/config.yaml
//
// When none exists the CLI runs on Default, an in-memory mesh.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	transport:
//	  redis:
//	    password: "${REDIS_PASSWORD}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax ("500ms", "5s", "1m").
//
// # Configuration Sections
//
// Transport, one of memory, redis, sqlite:
//
//	transport:
//	  kind: "redis"
//	  redis:
//	    addr: "localhost:6379"
//	    key_prefix: "topicmesh"
//
// Database for checkpoints, connection audit and the event ledger. Optional;
// with a sqlite transport the same file is used when this is empty:
//
//	database:
//	  path: "/var/lib/topicmesh/mesh.db"
//
// Agents:
//
//	agents:
//	  poll_interval: "5s"
//	  risk:
//	    input_topic: "prices"
//	    output_topic: "risk-alerts"
//	    high_threshold: 0.10
//	    medium_threshold: 0.05
//	  rebalance:
//	    input_topic: "governance"
//	    quorum: 3
//	  price_feed:
//	    tokens: ["HBAR", "ETH"]
//	    interval: "10s"
//
// Connections:
//
//	connections:
//	  enabled: true
//	  account_id: "0.0.1001"
//	  inbound_topic: "0.0.1001-inbound"
//	  approval:
//	    mode: "expression"   # auto, manual, expression
//	    expression: "request.account.startsWith('0.0.')"
//	  rate_limit: 1
//	  rate_burst: 5
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//
// # Usage
//
//	path, found := config.Resolve("")
//	cfg := config.Default()
//	if found {
//	    cfg, err = config.Load(path)
//	}
package config
