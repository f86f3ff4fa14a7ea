package logging

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// RedactedString creates a Zap field with redacted value and length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactingEncoder drops values of sensitive keys.
type redactingEncoder struct {
	zapcore.Encoder
	fields map[string]bool
}

func newRedactingEncoder(base zapcore.Encoder, keys []string) zapcore.Encoder {
	if len(keys) == 0 {
		return base
	}
	fields := make(map[string]bool, len(keys))
	for _, k := range keys {
		fields[strings.ToLower(k)] = true
	}
	return &redactingEncoder{Encoder: base, fields: fields}
}

func (e *redactingEncoder) redact(key string) bool {
	return e.fields[strings.ToLower(key)]
}

func (e *redactingEncoder) AddString(key, val string) {
	if e.redact(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.redact(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val interface{}) error {
	if e.redact(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), fields: e.fields}
}

// EncodeEntry routes entry fields through the redacting Add* methods.
func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if e.redact(f.Key) && (f.Type == zapcore.StringType || f.Type == zapcore.ByteStringType || f.Type == zapcore.ReflectType) {
			f = zap.String(f.Key, "[REDACTED]")
		}
		clean[i] = f
	}
	return e.Encoder.EncodeEntry(ent, clean)
}
