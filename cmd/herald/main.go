// Package main is the Herald entry point: a social-media agent that
// watches mentions, generates replies, and posts them through an automated
// browser session.
//
// Subcommands:
//
//	run    execute one mention workflow and exit
//	post   create and post one topic-driven item
//	serve  run the scheduler and HTTP API until interrupted
//	seed   write the default selectors into the database
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/herald/pkg/agent"
	"github.com/entrhq/herald/pkg/api"
	"github.com/entrhq/herald/pkg/automation/driver"
	"github.com/entrhq/herald/pkg/automation/selectors"
	"github.com/entrhq/herald/pkg/config"
	"github.com/entrhq/herald/pkg/generation"
	"github.com/entrhq/herald/pkg/monitoring"
	"github.com/entrhq/herald/pkg/scheduler"
	"github.com/entrhq/herald/pkg/storage"
	"github.com/entrhq/herald/pkg/telemetry"
)

const version = "0.1.0"

func main() {
	var (
		configPath  = flag.String("config", "herald.yaml", "path to the YAML config file")
		quiet       = flag.Bool("quiet", false, "suppress stdout logging (file log still written)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("herald v%s\n", version)
		return
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "herald: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.DataDir, cfg.LogLevel, *quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "herald: logging setup: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cmd, cfg, logger); err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: herald [flags] <command>

Commands:
  run     execute one mention workflow and exit
  post    create and post one topic-driven item (-topic, -image)
  serve   run the scheduler and HTTP API until interrupted
  seed    write the default selectors into the database

Flags:
`)
	flag.PrintDefaults()
}

func dispatch(ctx context.Context, cmd string, cfg *config.Config, logger *slog.Logger) error {
	switch cmd {
	case "run":
		return runOnce(ctx, cfg, logger)
	case "post":
		return postOnce(ctx, cfg, logger)
	case "serve":
		return serve(ctx, cfg, logger)
	case "seed":
		return seed(ctx, cfg, logger)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// app bundles the wired components behind the subcommands.
type app struct {
	store        *storage.Store
	manager      *driver.Manager
	orchestrator *agent.Orchestrator
}

func (a *app) close(logger *slog.Logger) {
	if a.manager != nil {
		if err := a.manager.Shutdown(); err != nil {
			logger.Warn("driver shutdown", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("store close", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	registry, err := selectors.New(ctx, store, logger,
		selectors.WithFailureThreshold(cfg.Automation.SelectorFailureThreshold),
		selectors.WithValidateTimeout(cfg.Automation.SelectorValidateTimeout),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	manager, err := driver.NewManager(driver.Config{
		BaseURL:           cfg.Account.BaseURL,
		Username:          cfg.Account.Username,
		Password:          cfg.Account.Password,
		Email:             cfg.Account.Email,
		Headless:          cfg.Browser.Headless,
		DisableSandbox:    cfg.Browser.DisableSandbox,
		ProxyURL:          cfg.Browser.ProxyURL(),
		ProxyUsername:     cfg.Browser.ProxyUsername,
		ProxyPassword:     cfg.Browser.ProxyPassword,
		SessionFile:       cfg.SessionFile(),
		ScreenshotDir:     cfg.ScreenshotDir(),
		RateLimitCooldown: cfg.Automation.RateLimitCooldown,
		ScrollSteps:       cfg.Automation.ScrollSteps,
	}, registry, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	textGen, err := generation.NewTextGenerator(cfg.Generation.OpenAIAPIKey,
		generation.WithModel(cfg.Generation.OpenAIModel),
		generation.WithBaseURL(cfg.Generation.OpenAIBaseURL),
		generation.WithTemperature(cfg.Generation.Temperature),
		generation.WithBrandVoice(cfg.Generation.BrandVoice),
	)
	if err != nil {
		_ = manager.Shutdown()
		_ = store.Close()
		return nil, err
	}

	var images agent.ImageGenerator
	if cfg.Generation.EnableImage {
		img, err := generation.NewImageGenerator(cfg.Generation.ImageAPIBaseURL, cfg.ImageDir())
		if err != nil {
			_ = manager.Shutdown()
			_ = store.Close()
			return nil, err
		}
		images = img
	}

	factory := func() (agent.Driver, error) { return manager.NewSession() }
	orchestrator := agent.New(factory, store, textGen, images, agent.Policy{
		Username:           cfg.Account.Username,
		FetchLimit:         cfg.Agent.MentionFetchLimit,
		RequireHumanReview: cfg.Agent.RequireHumanReview,
		MinActionDelay:     cfg.Agent.MinActionDelay,
		MaxActionDelay:     cfg.Agent.MaxActionDelay,
	}, logger)

	return &app{store: store, manager: manager, orchestrator: orchestrator}, nil
}

func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	res := a.orchestrator.Run(ctx)

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))

	if res.Failed {
		return errors.New("workflow run failed")
	}
	return nil
}

func postOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	topic := fs.String("topic", "", "topic to post about (required)")
	withImage := fs.Bool("image", false, "attach a generated image")
	_ = fs.Parse(flag.Args()[1:])

	if *topic == "" {
		fs.Usage()
		return errors.New("post: -topic is required")
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	content, err := a.orchestrator.CreateContent(ctx, *topic, *withImage)
	if err != nil {
		return err
	}
	if err := a.orchestrator.PostContent(ctx, content); err != nil {
		return err
	}

	fmt.Printf("draft %d: %s\n", content.DraftID, content.Text)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	alerter, err := monitoring.NewAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(a.orchestrator, alerter, scheduler.Config{
		MentionCheckSpec:    cfg.Schedules.MentionCheck,
		ContentCreationSpec: cfg.Schedules.ContentCreation,
		Topics:              cfg.Agent.ContentTopics,
		WithImage:           cfg.Generation.EnableImage,
	}, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	health := monitoring.NewHealthChecker(a.store.DB(), cfg.Generation.OpenAIBaseURL)
	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.New(a.orchestrator, health, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.BindAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func seed(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	added, reset, err := store.SeedSelectors(ctx, selectors.Defaults)
	if err != nil {
		return err
	}

	logger.Info("selectors seeded", "added", added, "reset", reset)
	fmt.Printf("selectors seeded: %d added, %d reset to defaults\n", added, reset)
	return nil
}
