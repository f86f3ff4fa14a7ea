package logging

import (
	"fmt"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for hook payload dumps.
const TraceLevel = zapcore.Level(-2)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string
	// Fields are attached to every entry.
	Fields map[string]string
	// RedactFields are keys whose string values are never written.
	RedactFields []string
	// OTel, when set, also receives every entry through the otelzap bridge.
	OTel log.LoggerProvider
}

// NewDefaultConfig returns config with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Fields: map[string]string{"service": "agentgate"},
		RedactFields: []string{
			"password", "secret", "token", "api_key",
			"authorization", "bearer", "credential", "private_key",
		},
	}
}

// LevelFromString parses a string into a zapcore.Level, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
