package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// DefaultSettingsPath is the location of the settings file written by the setup.
const DefaultSettingsPath = "~/.glacier-backup/settings.yml"

// Settings is the content of the settings file. Only the default profile is read.
type Settings struct {
	Default Profile `yaml:"default"`
}

// Profile holds the stored choices of the setup.
type Profile struct {
	Region       string `yaml:"region"`
	Vault        string `yaml:"vault"`
	Backend      string `yaml:"backend"`
	StorageClass string `yaml:"storage_class"`
	PartSize     string `yaml:"part_size"`
	Concurrency  int    `yaml:"concurrency"`
	FileType     string `yaml:"file_type"`
}

// LoadSettings reads the settings file at pth. A missing file is not an error, it yields empty Settings.
func LoadSettings(pathModifier pathutil.PathModifier, pth string) (Settings, error) {
	absPath, err := pathModifier.AbsPath(pth)
	if err != nil {
		return Settings{}, err
	}

	content, err := os.ReadFile(absPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(content, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", absPath, err)
	}
	return settings, nil
}

func (p Profile) apply(c *Config) error {
	if p.Region != "" {
		c.Region = p.Region
	}
	if p.Vault != "" {
		c.Vault = p.Vault
	}
	if p.Backend != "" {
		c.Backend = Backend(p.Backend)
	}
	if p.StorageClass != "" {
		c.StorageClass = p.StorageClass
	}
	if p.PartSize != "" {
		size, err := units.RAMInBytes(p.PartSize)
		if err != nil {
			return fmt.Errorf("settings part_size: %w", err)
		}
		c.PartSize = size
	}
	if p.Concurrency != 0 {
		c.Concurrency = p.Concurrency
	}
	if p.FileType != "" {
		c.FileType = p.FileType
	}
	return nil
}
