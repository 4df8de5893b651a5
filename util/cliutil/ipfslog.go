package cliutil

import (
	"io"

	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// Sends logging from ipfs libraries (blockstore, flatfs) to out, in roughly the same format as slog.
func SetIpfsWriter(out io.Writer, format string, level string) {
	var ze zapcore.Encoder
	if format == "json" {
		ze = zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey: "msg",
			LevelKey:   "level",
			NameKey:    "system",
		})
	} else {
		ze = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey: "msg",
			LevelKey:   "level",
			NameKey:    "system",
		})
	}

	zl, err := zapcore.ParseLevel(level)
	if err != nil {
		zl = zapcore.InfoLevel
	}

	ipfslog.SetPrimaryCore(zapcore.NewCore(ze, zapcore.AddSync(out), zl))
}
