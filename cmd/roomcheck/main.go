package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"roomcheck/internal/config"
	appLog "roomcheck/internal/log"
)

var CLI struct {
	Version  kong.VersionFlag
	Config   string `help:"Config file path." type:"path" default:"/etc/roomcheck/config.yaml"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)." name:"log-level"`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API with periodic refresh." default:"1"`
	Check   CheckCmd   `cmd:"" help:"Check whether a room is free for a time range."`
	Expand  ExpandCmd  `cmd:"" help:"Print the lecture timetable expanded around a date."`
	Convert ConvertCmd `cmd:"" help:"Convert a registrar timetable workbook to the lecture XML feed."`
	Export  ExportCmd  `cmd:"" help:"Export occupancies as iCalendar or a board spreadsheet."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("roomcheck"),
		kong.Description("Classroom reservation conflict checker"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	conf, err := config.Load(CLI.Config)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", CLI.Config)
		os.Exit(1)
	}
	level := conf.Log.Level
	if CLI.LogLevel != "" {
		level = CLI.LogLevel
	}
	appLog.Setup(appLog.Options{Level: level, File: conf.Log.File})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := kctx.Run(&runContext{ctx: ctx, cfg: conf}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
