// Package logger builds the zap loggers used by every policytxn process.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
	// OutputFile is a path, "stdout", "stderr" or "discard".
	OutputFile string `yaml:"output_file"`
}

// Default is console output at info level on stdout.
func Default() Config {
	return Config{Level: "info", Format: "console", OutputFile: "stdout"}
}

// New creates a logger tagged with the process role, e.g. "txnode" or
// "authority", plus any fields that identify the process within its fleet.
func New(config Config, role string, fields ...zap.Field) (*zap.Logger, error) {
	// Unknown levels are not fatal; a typo in a node config should not keep it down.
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	sink, err := openSink(config.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoderFor(config.Format), sink, level)
	base := []zap.Field{zap.String("service", "policytxn"), zap.String("role", role)}
	return zap.New(core, zap.AddCaller()).With(append(base, fields...)...), nil
}

func encoderFor(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	// Latencies and sleeps are configured in milliseconds, so log them that way.
	encoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func openSink(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "discard":
		return zapcore.AddSync(io.Discard), nil
	default:
		// Several nodes of a local fleet may share one file.
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", outputFile, err)
		}
		return zapcore.Lock(file), nil
	}
}
