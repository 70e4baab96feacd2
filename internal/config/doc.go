// Package config provides centralized configuration for taskmesh's broker,
// control plane, and service processes through environment variables with
// sensible local defaults.
//
// # Overview
//
// Load reads environment variables (falling back to defaults suitable for a
// single-machine local run) into an AppConfig: broker/control-plane
// addressing, the observability stack's endpoints, per-process health
// ports, and the domain tunables named in the dispatch and concurrency
// model — step interval, services retrieval threshold, max orchestrator
// calls, broker retry limit, and the MetaServiceTool wall-clock timeout.
//
//	cfg := config.Load()
//	addr := cfg.GetBrokerAddress()
//	health := cfg.GetHealthPort("broker")
package config
