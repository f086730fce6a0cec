package wazero

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// LogAttr is one typed attribute of a guest log message.
type LogAttr struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// LogMessage is the JSON payload of the log_message host function.
type LogMessage struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Attrs   []LogAttr `json:"attrs,omitempty"`
}

// LogHandler implements the log_message host function. It receives a
// packed pointer to a JSON LogMessage and logs it at the guest's level.
func LogHandler(logger *slog.Logger) api.GoModuleFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		msg, ok := readLogMessage(ctx, logger, mod, stack[0])
		if !ok {
			return
		}
		logger.LogAttrs(ctx, parseLogLevel(logger, msg.Level), msg.Message, convertLogAttrs(msg.Attrs)...)
	}
}

func readLogMessage(ctx context.Context, logger *slog.Logger, mod api.Module, packed uint64) (*LogMessage, bool) {
	data, err := Read(mod, packed)
	if err != nil {
		logger.ErrorContext(ctx, "wazero: failed to read log message from guest memory", "error", err)
		return nil, false
	}
	var msg LogMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.ErrorContext(ctx, "wazero: failed to unmarshal log message", "error", err)
		return nil, false
	}
	return &msg, true
}

func parseLogLevel(logger *slog.Logger, s string) slog.Level {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(s)); err != nil {
		logger.Warn("wazero: unknown log level from guest", "level", s)
	}
	return level
}

func convertLogAttrs(wire []LogAttr) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(wire))
	for _, a := range wire {
		attrs = append(attrs, convertAttr(a))
	}
	return attrs
}

func convertAttr(a LogAttr) slog.Attr {
	switch a.Type {
	case "string":
		return slog.String(a.Key, a.Value)
	case "int64":
		if v, err := strconv.ParseInt(a.Value, 10, 64); err == nil {
			return slog.Int64(a.Key, v)
		}
	case "bool":
		if v, err := strconv.ParseBool(a.Value); err == nil {
			return slog.Bool(a.Key, v)
		}
	case "float64":
		if v, err := strconv.ParseFloat(a.Value, 64); err == nil {
			return slog.Float64(a.Key, v)
		}
	case "time":
		if v, err := time.Parse(time.RFC3339Nano, a.Value); err == nil {
			return slog.Time(a.Key, v)
		}
	case "error":
		return slog.Any(a.Key, fmt.Errorf("%s", a.Value))
	}
	return slog.Any(a.Key, a.Value)
}
