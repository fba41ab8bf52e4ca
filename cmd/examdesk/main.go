package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/examdesk/examdesk/internal/api"
	"github.com/examdesk/examdesk/internal/app"
	"github.com/examdesk/examdesk/internal/auth"
	"github.com/examdesk/examdesk/internal/config"
	"github.com/examdesk/examdesk/internal/hub"
	"github.com/examdesk/examdesk/internal/localstore"
	"github.com/examdesk/examdesk/internal/logging"
	"github.com/examdesk/examdesk/internal/notify"
	"github.com/examdesk/examdesk/internal/submission"
)

func main() {
	configPath := flag.String("config", "examdesk.yaml", "Path to config file")
	envFile := flag.String("env", ".env", "Optional .env file with EXAMDESK_* overrides")
	username := flag.String("user", "", "Sign in as this user before starting")
	logout := flag.Bool("logout", false, "Clear the stored session and exit")
	flag.Parse()

	if err := run(*configPath, *envFile, *username, *logout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, username string, logout bool) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tail := logging.NewTail(500)
	logger, logCloser, err := logging.New(cfg.Log.Level, cfg.Log.File, tail)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	store, err := localstore.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	client := api.New(api.Options{
		BaseURL:             cfg.APIBaseURL(),
		GradingBaseURL:      cfg.API.GradingBaseURL,
		IdentityBaseURL:     cfg.API.IdentityBaseURL,
		FetchTimeout:        cfg.API.FetchTimeout,
		RequestTimeout:      cfg.API.RequestTimeout,
		NestedUploadTimeout: cfg.API.NestedUploadTimeout,
		Logger:              logger,
	})
	tokens := auth.NewTokenSource(auth.TokenSourceOptions{
		Store:       store,
		Refresher:   client,
		TokenKey:    cfg.Hub.TokenKey,
		StaticToken: cfg.Hub.StaticToken,
		Logger:      logger,
	})
	client.SetTokenProvider(tokens)

	// One hub connection per process, shared by every notification consumer.
	hc := hub.New(hub.Options{
		URL:                  cfg.Hub.URL,
		Transport:            &hub.WebSocketTransport{SkipNegotiation: cfg.Hub.SkipNegotiation},
		ReconnectDelays:      cfg.Hub.ReconnectDelays,
		MaxReconnectAttempts: cfg.Hub.MaxReconnectAttempts,
		Logger:               logger,
	})
	defer hc.Stop()
	hc.SetAccessTokenProvider(tokens)

	session := auth.NewService(client, store, tokens, hc, logger)

	if err := session.Restore(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("restore session failed")
	}
	if logout {
		return session.Logout(context.Background())
	}
	if username != "" {
		if err := login(session, username, cfg.API.FetchTimeout); err != nil {
			return err
		}
	}

	router := notify.NewRouter(hc, logger)
	workflow := submission.New(client, cfg.API.UploadMaxSize, logger)

	m := app.New(app.Deps{
		Workflow:        workflow,
		Notifier:        router,
		Feed:            notify.NewFeed(notify.DefaultFeedSize),
		Sessions:        client,
		Identity:        session,
		Grading:         client,
		Logs:            tail,
		RefreshInterval: cfg.UI.RefreshInterval,
		Logger:          logger,
	})
	defer m.Close()

	logger.Info().Str("api", cfg.APIBaseURL()).Str("hub", cfg.Hub.URL).Msg("starting examdesk")
	started := time.Now()
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	logger.Info().Dur("uptime", time.Since(started)).Msg("examdesk stopped")
	return nil
}

func login(session *auth.Service, username string, timeout time.Duration) error {
	password := os.Getenv(config.EnvPrefix + "PASSWORD")
	if password == "" {
		fmt.Fprintf(os.Stderr, "Password for %s: ", username)
		if _, err := fmt.Fscanln(os.Stdin, &password); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := session.Login(ctx, username, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}
