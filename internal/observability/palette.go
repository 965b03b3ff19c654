// File: internal/observability/palette.go
package observability

import (
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/irpa-agent/internal/config"
)

const ansiReset = "\x1b[0m"

var ansi = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// palette holds the ANSI prefix for each coloured level. Levels without an
// entry, or with an unknown colour name, print plain.
type palette map[zapcore.Level]string

func newPalette(c config.ColorConfig) palette {
	p := palette{}
	for level, name := range map[zapcore.Level]string{
		zapcore.DebugLevel:  c.Debug,
		zapcore.InfoLevel:   c.Info,
		zapcore.WarnLevel:   c.Warn,
		zapcore.ErrorLevel:  c.Error,
		zapcore.DPanicLevel: c.DPanic,
		zapcore.PanicLevel:  c.Panic,
		zapcore.FatalLevel:  c.Fatal,
	} {
		if code, ok := ansi[strings.ToLower(strings.TrimSpace(name))]; ok {
			p[level] = code
		}
	}
	return p
}

func (p palette) encodeLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	label := level.CapitalString()
	if code, ok := p[level]; ok {
		label = code + label + ansiReset
	}
	enc.AppendString(label)
}
