// Package config loads the dispatcher configuration from config.yaml and
// DISPATCHER_* environment variables and validates it once at startup.
//
// Example config.yaml:
//
//	server:
//	  address: "127.0.0.1:8080"
//	  max_connections: 256
//	strategy:
//	  type: "round-robin"
//	backends:
//	  - address: "http://localhost:8081"
//	  - address: "redis://localhost:6379/0"
//	    weight: 2
package config
