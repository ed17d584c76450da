// Package validation guards the dispatcher's inbound surfaces: build
// requests arriving from the scheduler and configuration loaded from disk
// or environment.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackhou/buildbot/config"
	"github.com/jackhou/buildbot/types"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9:_.-]+$`)

var dangerousPatterns = []string{
	"<script", "</script>", "javascript:", "data:", "vbscript:",
	"&&", "||", "|", ";", "&", "`", "$(", "${",
}

// ValidateBuildRequest validates a build request before it is handed to
// MaybeStart.
func ValidateBuildRequest(req *types.BuildRequest) error {
	if req.ID <= 0 {
		return fmt.Errorf("request ID must be positive")
	}
	if req.BuildsetID <= 0 {
		return fmt.Errorf("buildset ID must be positive")
	}
	if err := ValidateBuilderName(req.BuilderName); err != nil {
		return fmt.Errorf("invalid builder name: %w", err)
	}
	if err := ValidateProperties(req.Properties); err != nil {
		return fmt.Errorf("invalid properties: %w", err)
	}
	return nil
}

// ValidateBuilderName validates a builder name used as a config/registry key
// and as a routing-key/metrics-label component.
func ValidateBuilderName(name string) error {
	if name == "" {
		return fmt.Errorf("builder name cannot be empty")
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid builder name format: %s", name)
	}
	if len(name) > 256 {
		return fmt.Errorf("builder name too long: %d characters", len(name))
	}
	return nil
}

// ValidateProperties validates a build-request or builder-config property
// map before it is merged into a Build's environment.
func ValidateProperties(props map[string]string) error {
	if props == nil {
		return nil
	}

	totalSize := 0
	for k, v := range props {
		totalSize += len(k) + len(v)
	}
	if totalSize > 10240 {
		return fmt.Errorf("properties too large: %d bytes", totalSize)
	}

	for key, value := range props {
		if err := validateKey(key); err != nil {
			return fmt.Errorf("invalid property key %q: %w", key, err)
		}
		if err := validateValue(value); err != nil {
			return fmt.Errorf("invalid property value for key %q: %w", key, err)
		}
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if !validName.MatchString(key) {
		return fmt.Errorf("invalid key format: %s", key)
	}
	if len(key) > 100 {
		return fmt.Errorf("key too long: %d characters", len(key))
	}
	return nil
}

func validateValue(value string) error {
	if len(value) > 1000 {
		return fmt.Errorf("value too long: %d characters", len(value))
	}
	lower := strings.ToLower(value)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("dangerous pattern %q in value", pattern)
		}
	}
	return nil
}

// ValidateBuilderConfig validates a single builder's configuration entry.
func ValidateBuilderConfig(cfg *config.BuilderConfig) error {
	if err := ValidateBuilderName(cfg.Name); err != nil {
		return err
	}
	if len(cfg.WorkerNames) == 0 {
		return fmt.Errorf("builder %q has no worker names", cfg.Name)
	}
	for _, w := range cfg.WorkerNames {
		if w == "" {
			return fmt.Errorf("builder %q has an empty worker name", cfg.Name)
		}
	}
	if err := ValidateProperties(cfg.Properties); err != nil {
		return fmt.Errorf("builder %q: %w", cfg.Name, err)
	}
	for _, lockName := range cfg.Locks {
		if lockName == "" {
			return fmt.Errorf("builder %q has an empty lock name", cfg.Name)
		}
	}
	return nil
}

// ValidateGlobalConfig validates the master-wide configuration, including
// every builder entry and duplicate-name detection.
func ValidateGlobalConfig(cfg *config.GlobalConfig) error {
	if cfg.BuildsCacheSize < 1 {
		return fmt.Errorf("builds cache size must be positive, got %d", cfg.BuildsCacheSize)
	}
	if cfg.ReclaimInterval < time.Second {
		return fmt.Errorf("reclaim interval too small: %v", cfg.ReclaimInterval)
	}
	if cfg.StatusInterval < time.Second {
		return fmt.Errorf("status interval too small: %v", cfg.StatusInterval)
	}

	seen := make(map[string]bool, len(cfg.Builders))
	for i := range cfg.Builders {
		b := &cfg.Builders[i]
		if err := ValidateBuilderConfig(b); err != nil {
			return err
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate builder name: %s", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// SanitizeInput strips newline, carriage-return and tab characters and
// caps length before a
// user-influenced string reaches a log line.
func SanitizeInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	sanitized = strings.ReplaceAll(sanitized, "\t", "")

	if len(sanitized) > 200 {
		sanitized = sanitized[:200] + "..."
	}
	return sanitized
}
