// Package config loads the dispatcher's configuration surface, following
// the teacher's env-override-over-file-defaults idiom.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// BuilderConfig is the per-builder configuration surface from spec §6:
// {name, workerNames[], locks[], env, properties, mergeRequests,
// canStartBuild, category, description, builddir}. The build factory and
// canStartBuild predicate are wired in code, not loaded from file/env.
type BuilderConfig struct {
	Name          string            `json:"name"`
	WorkerNames   []string          `json:"worker_names"`
	Locks         []string          `json:"locks"`
	Env           map[string]string `json:"env"`
	Properties    map[string]string `json:"properties"`
	MergeRequests bool              `json:"merge_requests"`
	Category      string            `json:"category"`
	Description   string            `json:"description"`
	BuildDir      string            `json:"builddir"`
}

// GlobalConfig is the master-wide configuration surface from spec §6:
// {caches['Builds'], mergeRequests} plus the ambient timer periods.
type GlobalConfig struct {
	BuildsCacheSize int             `json:"builds_cache_size"`
	MergeRequests   bool            `json:"merge_requests"`
	ReclaimInterval time.Duration   `json:"reclaim_interval"`
	StatusInterval  time.Duration   `json:"status_interval"`
	Builders        []BuilderConfig `json:"builders"`
}

// LoadGlobalConfig loads the master configuration with environment variable
// overrides, matching the teacher's LoadCoordinatorConfig shape.
func LoadGlobalConfig(configPath string) (*GlobalConfig, error) {
	cfg := &GlobalConfig{
		BuildsCacheSize: 15,
		MergeRequests:   true,
		ReclaimInterval: 10 * time.Minute,
		StatusInterval:  30 * time.Minute,
	}

	if configPath != "" {
		if err := loadConfigFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if size := os.Getenv("DISPATCHER_BUILDS_CACHE_SIZE"); size != "" {
		if s, err := strconv.Atoi(size); err == nil {
			cfg.BuildsCacheSize = s
		}
	}

	if merge := os.Getenv("DISPATCHER_MERGE_REQUESTS"); merge != "" {
		if m, err := strconv.ParseBool(merge); err == nil {
			cfg.MergeRequests = m
		}
	}

	if interval := os.Getenv("DISPATCHER_RECLAIM_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.ReclaimInterval = d
		}
	}

	if interval := os.Getenv("DISPATCHER_STATUS_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.StatusInterval = d
		}
	}

	return cfg, nil
}

// FindBuilder locates a builder's config by name, mirroring the original
// reconfigService's "find this builder in the config" lookup.
func (g *GlobalConfig) FindBuilder(name string) (BuilderConfig, bool) {
	for _, b := range g.Builders {
		if b.Name == name {
			return b, true
		}
	}
	return BuilderConfig{}, false
}

// loadConfigFromFile loads configuration from a JSON file. Missing files are
// not an error: config is optional on top of the coded-in defaults.
func loadConfigFromFile(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}

	return nil
}

// SaveConfig saves configuration to a JSON file.
func SaveConfig(configPath string, config interface{}) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
