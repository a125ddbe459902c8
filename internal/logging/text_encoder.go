package logging

import (
	"fmt"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// textEncoder renders "HH:MM:SS.mmm LEVEL [component:server] message k=v …",
// the human-readable format spec.md §6 specifies. It accumulates fields via
// zapcore.MapObjectEncoder and does its own line assembly in EncodeEntry
// rather than delegating to zapcore.NewConsoleEncoder, since the console
// encoder has no notion of the compact "[component:server]" tag.
type textEncoder struct {
	*zapcore.MapObjectEncoder
	pool buffer.Pool
}

func newTextEncoder() *textEncoder {
	return &textEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		pool:             buffer.NewPool(),
	}
}

func (e *textEncoder) Clone() zapcore.Encoder {
	clone := newTextEncoder()
	for k, v := range e.MapObjectEncoder.Fields {
		clone.MapObjectEncoder.Fields[k] = v
	}
	return clone
}

func (e *textEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := e.pool.Get()

	merged := zapcore.NewMapObjectEncoder()
	for k, v := range e.MapObjectEncoder.Fields {
		merged.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(merged)
	}

	component, _ := merged.Fields["component"].(string)
	server, _ := merged.Fields["server"].(string)
	delete(merged.Fields, "component")
	delete(merged.Fields, "server")

	line.AppendString(entry.Time.UTC().Format("15:04:05.000"))
	line.AppendByte(' ')
	line.AppendString(levelTag(entry.Level))
	line.AppendByte(' ')
	line.AppendByte('[')
	line.AppendString(component)
	if server != "" {
		line.AppendByte(':')
		line.AppendString(server)
	}
	line.AppendByte(']')
	line.AppendByte(' ')
	line.AppendString(entry.Message)

	for _, k := range sortedKeys(merged.Fields) {
		line.AppendByte(' ')
		line.AppendString(k)
		line.AppendByte('=')
		fmt.Fprintf(line, "%v", merged.Fields[k])
	}
	if entry.Caller.Defined && entry.Level >= zapcore.WarnLevel {
		line.AppendString(" caller=")
		line.AppendString(entry.Caller.TrimmedPath())
	}
	line.AppendByte('\n')
	return line, nil
}

func levelTag(l zapcore.Level) string {
	switch l {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.InfoLevel:
		return "INFO"
	case zapcore.WarnLevel:
		return "WARN"
	case zapcore.ErrorLevel:
		return "ERROR"
	default:
		return l.CapitalString()
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort is fine here: field counts per log line are tiny.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
