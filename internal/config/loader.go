package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1 << 20

	// EnvPrefix scopes environment overrides to this service.
	EnvPrefix = "MAILSMITH_"
)

// DefaultPath returns ~/.config/mailsmith/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mailsmith", "config.yaml"), nil
}

// Load builds the configuration from defaults, the YAML file at configPath
// and MAILSMITH_* environment variables, in increasing order of precedence.
//
// A missing file is not an error. An existing file must be at most 1MB and
// carry 0600 or 0400 permissions.
//
// Environment variables split on the first underscore after the prefix:
//
//	MAILSMITH_PIPELINE_RETRY_BOUND          -> pipeline.retry_bound
//	MAILSMITH_PERSONALIZATION_TOP_K_SIMILAR -> personalization.top_k_similar
//	MAILSMITH_PROVIDER_API_KEY              -> provider.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal over the defaults so keys absent from every source keep their
	// default, including booleans and explicit zeros.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps MAILSMITH_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile returns the file contents, or nil when the file does not
// exist. Checks run against the open descriptor so the file cannot be
// swapped between check and read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileInfo(info); err != nil {
		return nil, fmt.Errorf("config file %s rejected: %w", path, err)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize))
}

func checkFileInfo(info fs.FileInfo) error {
	if info.IsDir() {
		return errors.New("is a directory")
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("permissions %v are too open, want 0600 or 0400", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("%d bytes exceeds the %d byte limit", info.Size(), maxConfigFileSize)
	}
	return nil
}
