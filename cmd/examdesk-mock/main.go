package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/examdesk/examdesk/internal/logging"
	"github.com/examdesk/examdesk/internal/mockserver"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "Listen address")
	interval := flag.Duration("interval", 5*time.Second, "Interval between generated hub events (0 disables)")
	requireAuth := flag.Bool("auth", false, "Require a bearer token for grading routes and the hub")
	password := flag.String("password", "", "Only accept this login password")
	uploadDelay := flag.Duration("upload-delay", 0, "Delay added to every upload")
	logLevel := flag.String("log-level", "information", "Log level")
	flag.Parse()

	logger := zerolog.New(logging.ConsoleWriter(os.Stderr)).
		Level(logging.ParseLevel(*logLevel)).
		With().Timestamp().Logger()

	gin.SetMode(gin.ReleaseMode)
	srv := mockserver.New(mockserver.Options{
		Password:    *password,
		RequireAuth: *requireAuth,
		UploadDelay: *uploadDelay,
		Logger:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *interval > 0 {
		gen := mockserver.NewGenerator(srv.Fixture(), srv.Hub(), *interval, logger)
		gen.Start(ctx)
	}

	httpSrv := &http.Server{Addr: *addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		logger.Info().Int("clients", srv.Hub().ClientCount()).Msg("shutting down")
		srv.Hub().CloseAll(false)
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpSrv.Shutdown(shutdownCtx)
	}()

	if *requireAuth {
		tok, _, err := srv.IssueToken("examiner01")
		if err == nil {
			fmt.Fprintf(os.Stderr, "dev token: %s\n", tok)
		}
	}
	logger.Info().Str("addr", *addr).Str("hub", mockserver.HubPath).Msg("mock backend listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
