package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap/zapcore"
)

// otelScope is the instrumentation scope of bridged log records.
const otelScope = "github.com/fyrsmithlabs/agentgate"

// newCore tees base into the OTel log bridge when a provider is configured.
// The bridge sees entries at the same level as the local writer.
func newCore(base zapcore.Core, cfg *Config) zapcore.Core {
	if cfg.OTel == nil {
		return base
	}
	bridge := otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(cfg.OTel))
	return zapcore.NewTee(base, &leveledCore{Core: bridge, level: cfg.Level})
}

// leveledCore applies a minimum level to a core that has none of its own.
type leveledCore struct {
	zapcore.Core
	level zapcore.Level
}

func (c *leveledCore) Enabled(l zapcore.Level) bool {
	return l >= c.level && c.Core.Enabled(l)
}

func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{Core: c.Core.With(fields), level: c.level}
}

func (c *leveledCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
