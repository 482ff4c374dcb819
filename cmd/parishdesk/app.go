package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/parishdesk/parishdesk/auth"
	"github.com/parishdesk/parishdesk/hub"
	httpServer "github.com/parishdesk/parishdesk/server/http"
	websocketServer "github.com/parishdesk/parishdesk/server/websocket"
	"github.com/parishdesk/parishdesk/service"
	store "github.com/parishdesk/parishdesk/storage/memory"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "event stream listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		authSecret    = fs.StringP("auth-secret", "s", "", "HMAC secret for connection tokens")
		tokenTTL      = fs.Duration("token-ttl", 24*time.Hour, "issued token lifetime")
		issueFor      = fs.String("issue-token", "", "print a connection token for the given subject and exit")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *authSecret == "" {
		logger.Fatal().Msg("--auth-secret is required")
	}

	if *issueFor != "" {
		issuer, errI := auth.NewIssuer([]byte(*authSecret), *tokenTTL)
		if errI != nil {
			logger.Fatal().Err(errI).Msg("failed to create token issuer")
		}
		token, errI := issuer.Issue(*issueFor)
		if errI != nil {
			logger.Fatal().Err(errI).Msg("failed to issue token")
		}
		os.Stdout.WriteString(token + "\n")
		return
	}

	verifier, err := auth.NewVerifier([]byte(*authSecret))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token verifier")
	}

	eventHub := hub.New(&logger)
	svc := service.NewService(service.Config{
		GroupStore:  store.NewMemStore(),
		Broadcaster: eventHub,
		Logger:      &logger,
	})
	apiSrv := httpServer.NewServer(httpServer.Config{
		Logger:       &logger,
		GroupService: svc,
		ListenAddr:   *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Hub:        eventHub,
		Verifier:   verifier,
		ListenAddr: *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go apiSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
