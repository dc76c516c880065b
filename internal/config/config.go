package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// PackagesSection is the section listing packages to preload.
const PackagesSection = "packages"

// Config represents the jsbridge configuration.
type Config struct {
	// Global options, keyed by their dotted name (e.g. log.level)
	Global map[string]string
	// Sections holds options from any [section] other than [packages]
	Sections map[string]map[string]string
	// Packages are preloaded into every session, in file order.
	Packages []PackageSpec
	// Warnings contains any warnings generated during config loading
	Warnings []string
}

// PackageSpec is one line of the [packages] section:
//
//	name version /path/to/archive.tgz
type PackageSpec struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Archive string `json:"archive"`
}

// NewConfig creates a new empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:   make(map[string]string),
		Sections: make(map[string]map[string]string),
		Packages: make([]PackageSpec, 0),
		Warnings: make([]string, 0),
	}
}

// Load loads configuration from the default config file path.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads configuration from the specified file path. A missing
// file yields an empty configuration.
//
// The file uses dnsmasq-style lines: optionName remainingLineIsTheValue.
// Symlinks are rejected.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	config := NewConfig()
	scanner := bufio.NewScanner(r)

	var section string
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(strings.Trim(line, "[]"))
			if section != PackagesSection && config.Sections[section] == nil {
				config.Sections[section] = make(map[string]string)
			}
			continue
		}

		optionName, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		switch section {
		case "":
			config.Global[optionName] = value
		case PackagesSection:
			spec, err := parsePackageLine(optionName, value)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid package %q: %w", lineNo, optionName, err)
			}
			config.Packages = append(config.Packages, spec)
		default:
			config.Sections[section][optionName] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	for _, issue := range ValidateConfig(config, DefaultSchema()) {
		config.addWarning("%s", issue)
	}

	return config, nil
}

// addWarning adds a warning to the config's warnings list.
func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[Config] " + msg)
}

// parsePackageLine parses "name version archive". The archive path is the
// remainder of the line, so it may contain spaces.
func parsePackageLine(name, rest string) (PackageSpec, error) {
	if name == "" {
		return PackageSpec{}, fmt.Errorf("empty package name")
	}
	version, archive, _ := strings.Cut(rest, " ")
	archive = strings.TrimSpace(archive)
	if version == "" {
		return PackageSpec{}, fmt.Errorf("missing version")
	}
	if archive == "" {
		return PackageSpec{}, fmt.Errorf("missing archive path")
	}
	return PackageSpec{Name: name, Version: version, Archive: archive}, nil
}

// parseBool parses a boolean value from string.
// Accepts: true, false, 1, 0, yes, no, on, off (case-insensitive)
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

// GetGlobalOption returns a global configuration option.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	value, exists := c.Global[name]
	return value, exists
}

// GetSectionOption returns an option from a section, falling back to the
// global option of the same name.
func (c *Config) GetSectionOption(section, name string) (string, bool) {
	if opts, exists := c.Sections[section]; exists {
		if value, exists := opts[name]; exists {
			return value, true
		}
	}
	return c.GetGlobalOption(name)
}

// SetGlobalOption sets a global configuration option.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}

// HasWarnings returns true if there are any warnings.
func (c *Config) HasWarnings() bool {
	return len(c.Warnings) > 0
}
