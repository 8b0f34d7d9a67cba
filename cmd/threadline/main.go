package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/app"
	"github.com/matheus3301/threadline/internal/chat"
	"github.com/matheus3301/threadline/internal/config"
	"github.com/matheus3301/threadline/internal/lock"
	"github.com/matheus3301/threadline/internal/profile"
	"github.com/matheus3301/threadline/internal/store"
	"github.com/matheus3301/threadline/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides THREADLINE_PROFILE and the config default)")
	flag.Parse()

	paths := profile.Default()
	name, err := resolveProfile(paths, *profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		chatStore *chat.Store
		db        *store.DB
		logger    *zap.Logger
	)
	fxApp := fx.New(
		fx.NopLogger,
		app.Module(app.Params{
			Profile:  name,
			Paths:    paths,
			Command:  "threadline",
			Realtime: true,
		}),
		fx.Populate(&chatStore, &db, &logger),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: profile %q is in use by pid %d (%s) since %s\n",
				name, held.Owner.PID, held.Owner.Command, held.Owner.Since.Format(time.RFC3339))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	ui := tui.NewApp(tui.Options{
		Profile:  name,
		Store:    chatStore,
		Searcher: db,
		Logger:   logger.Named("tui"),
	})
	runErr := ui.Run()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}

// resolveProfile applies --profile, then THREADLINE_PROFILE, then the
// config default.
func resolveProfile(paths profile.Paths, flagValue string) (string, error) {
	cfg, err := config.LoadOrDefault(paths.ConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return profile.Resolve(flagValue, os.Getenv(profile.EnvProfile), cfg.DefaultProfile)
}
