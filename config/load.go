package config

import (
	"fmt"

	"github.com/bitrise-io/glacier-backup/envconf"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/pflag"
)

// Loader ...
type Loader struct {
	envGetter    envconf.EnvGetter
	pathModifier pathutil.PathModifier
	logger       log.Logger
}

// NewLoader ...
func NewLoader(envGetter envconf.EnvGetter, pathModifier pathutil.PathModifier, logger log.Logger) *Loader {
	return &Loader{
		envGetter:    envGetter,
		pathModifier: pathModifier,
		logger:       logger,
	}
}

// Load merges the sources into a validated Config. fs must be parsed already.
func (l *Loader) Load(fs *pflag.FlagSet) (Config, error) {
	c := Default()

	settingsPath, err := fs.GetString(FlagSettings)
	if err != nil {
		return Config{}, err
	}
	settings, err := LoadSettings(l.pathModifier, settingsPath)
	if err != nil {
		return Config{}, err
	}
	if err := settings.Default.apply(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	if err := envconf.NewInputParser(l.envGetter).Parse(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	if err := applyFlags(fs, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	l.logger.Debugf("Settings file: %s", settingsPath)
	return c, nil
}
