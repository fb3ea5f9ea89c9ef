package refactor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
)

// ConfigFileName is read from the workspace root when present.
const ConfigFileName = ".vbarefactor.yaml"

const (
	// DefaultReparseTimeout bounds the wait for the reparse after a local
	// insertion.
	DefaultReparseTimeout = 30 * time.Second

	// DefaultIndent is added in front of statements split out of a
	// procedure header line.
	DefaultIndent = "    "
)

// EngineConfig contains configuration options for the refactoring engine
type EngineConfig struct {
	// ProjectID names the VBA project; the workspace directory name when empty.
	ProjectID string `yaml:"project_id"`

	ReparseTimeout time.Duration `yaml:"reparse_timeout"`

	Indent string `yaml:"indent"`

	// ModuleExtensions are the file extensions loaded as modules.
	ModuleExtensions []string `yaml:"module_extensions"`

	// Backup writes a .backup copy of each file before it is overwritten.
	Backup bool `yaml:"backup"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		ReparseTimeout:   DefaultReparseTimeout,
		Indent:           DefaultIndent,
		ModuleExtensions: append([]string(nil), codemodule.DefaultExtensions...),
		Backup:           true,
	}
}

// LoadConfig reads ConfigFileName from root over the defaults. A missing
// file is not an error.
func LoadConfig(root string) (*EngineConfig, error) {
	cfg := DefaultConfig()
	path := filepath.Join(root, ConfigFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *EngineConfig) Validate() error {
	if c.ReparseTimeout <= 0 {
		return fmt.Errorf("reparse_timeout must be positive, got %s", c.ReparseTimeout)
	}
	for _, r := range c.Indent {
		if r != ' ' && r != '\t' {
			return fmt.Errorf("indent may only contain blanks, got %q", c.Indent)
		}
	}
	if len(c.ModuleExtensions) == 0 {
		return fmt.Errorf("module_extensions must not be empty")
	}
	return nil
}
