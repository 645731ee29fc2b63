// Command medlingo runs the MedLingo server and a terminal client.
//
//	medlingo [serve] [-config medlingo.yaml]   translation gateway + room API
//	medlingo talk -server http://host:8080 ... terminal participant
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/medlingo/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "talk") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("medlingo "+cmd, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file (default: environment only)")
	var talk *talkFlags
	if cmd == "talk" {
		talk = registerTalkFlags(fs)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "medlingo: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "medlingo: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(cmd, level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	switch cmd {
	case "talk":
		err = runTalk(ctx, cfg, reg, talk)
	default:
		err = serve(ctx, cfg, reg, *configPath, level)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("medlingo: exiting", "cmd", cmd, "err", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// newLogger writes JSON for the server and text for the interactive client,
// where logs share the terminal with the conversation.
func newLogger(cmd string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if cmd == "talk" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
