// Package config loads PressBench Core configuration.
//
// Configuration comes from a YAML file with hardcoded defaults underneath
// and PRESSBENCH_* environment variable overrides on top. Every timeout,
// delay and retry bound used by the orchestration engines is configured
// here so bench operators can tune for slow instruments without rebuilding.
package config
