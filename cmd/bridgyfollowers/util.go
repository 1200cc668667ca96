package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bridgyfollowers/bridgyfollowers/pkg/env"

	"github.com/urfave/cli/v2"
)

const stdIOPath = "-"

func getFileOrStdout(cctx *cli.Context, path string) (io.WriteCloser, error) {
	if path == "" || path == stdIOPath {
		return nopCloser{cctx.App.Writer}, nil
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	return file, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cctx.Bool("log-json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func userAgent() string {
	return env.UserAgent("bridgyfollowers")
}
