package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoder.
type Format string

const (
	ColorizedOutput Format = "color"
	PlaintextOutput Format = "plain"
	JSONOutput      Format = "json"
)

// NamedLevel overrides the level for loggers whose name matches Name.
// Name may be a glob pattern such as "ingest*".
type NamedLevel struct {
	Name  string `yaml:"name"`
	Level string `yaml:"level"`
}

// Config holds logger settings as read from the yaml config.
type Config struct {
	Production   bool         `yaml:"production"`
	DefaultLevel string       `yaml:"defaultLevel"`
	Levels       []NamedLevel `yaml:"levels"`
	OutputPaths  []string     `yaml:"outputPaths"`
	Format       Format       `yaml:"format"`
}

// Build creates a zap logger from the config without installing it.
func (c Config) Build() (*zap.Logger, error) {
	var conf zap.Config
	if c.Production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
	}
	enc := conf.EncoderConfig
	switch c.Format {
	case JSONOutput:
		enc.MessageKey = "msg"
		enc.TimeKey = "ts"
		enc.LevelKey = "level"
		enc.NameKey = "logger"
		enc.CallerKey = "caller"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		conf.Encoding = "json"
	case PlaintextOutput:
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		conf.Encoding = "console"
	default:
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		conf.Encoding = "console"
	}
	conf.EncoderConfig = enc
	if len(c.OutputPaths) > 0 {
		conf.OutputPaths = append(conf.OutputPaths, c.OutputPaths...)
	}
	if c.DefaultLevel != "" {
		lvl, err := zap.ParseAtomicLevel(strings.ToLower(c.DefaultLevel))
		if err != nil {
			return nil, err
		}
		conf.Level = lvl
	}
	// named levels can only raise verbosity if the root allows it
	for _, nl := range c.Levels {
		if lvl, err := zap.ParseAtomicLevel(strings.ToLower(nl.Level)); err == nil && lvl.Level() < conf.Level.Level() {
			conf.Level.SetLevel(lvl.Level())
		}
	}
	return conf.Build()
}

// ApplyGlobal builds the logger and installs it as the process default.
func (c Config) ApplyGlobal() error {
	lg, err := c.Build()
	if err != nil {
		return err
	}
	SetDefault(lg)
	SetNamedLevels(c.Levels)
	return nil
}
