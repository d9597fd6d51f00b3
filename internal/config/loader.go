package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping
	// them onto configuration keys.
	EnvPrefix = "CANOPY_"
)

// nestedSections lists the sub-sections whose names contain an underscore
// or that sit one level below a top-level section. The env transformer
// needs them to tell section boundaries apart from field names.
var nestedSections = map[string][]string{
	"server": {"tls", "rate_limit"},
	"auth":   {"default_permission"},
}

// Load builds the configuration from defaults, then the YAML file at path,
// then CANOPY_* environment variables.
//
// An empty path uses DefaultPath. A missing default file is not an error,
// but a missing file that was named explicitly is.
//
// # Security Considerations
//
// The file must not be readable by group or others (0600 or 0400) and
// must be smaller than 1MB.
//
// # Environment Variable Mapping
//
//	CANOPY_SERVER_ADDR                -> server.addr
//	CANOPY_SERVER_TLS_CERT_FILE       -> server.tls.cert_file
//	CANOPY_SERVER_RATE_LIMIT_BURST    -> server.rate_limit.burst
//	CANOPY_AUTH_DEFAULT_PERMISSION_LEVEL -> auth.default_permission.level
//	CANOPY_NATS_SUBJECT_PREFIX        -> nats.subject_prefix
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		def, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = def
	}

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.config/canopy/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "canopy", "config.yaml"), nil
}

// envKey maps CANOPY_SECTION_FIELD_NAME to section.field_name, descending
// into known nested sections.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	for _, sub := range nestedSections[section] {
		if field, found := strings.CutPrefix(rest, sub+"_"); found {
			return section + "." + sub + "." + field
		}
	}
	return section + "." + rest
}

// readConfigFile opens the file once and validates it through the same
// descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: exceeds %d bytes", maxConfigFileSize)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		return fmt.Errorf("config file has insecure permissions %#o (require 0600 or 0400)", mode)
	}
	return nil
}
