package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/parishdesk/parishdesk/client"
	"github.com/parishdesk/parishdesk/model"
)

// groupwatch follows group changes on a parishdesk server and prints them.
// SIGHUP acts as the foreground/visibility signal: while disconnected it
// schedules a reconnect.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		serverURL = fs.StringP("server", "u", "http://localhost:8888", "parishdesk server origin")
		token     = fs.StringP("token", "t", "", "connection token")
		resource  = fs.StringP("resource", "r", "groups", "resource type to follow")
		logLevel  = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *token == "" {
		logger.Fatal().Msg("--token is required")
	}

	wakeups := make(chan struct{}, 1)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			select {
			case wakeups <- struct{}{}:
			default:
			}
		}
	}()

	logGroup := func(verb string, data json.RawMessage) {
		var g model.Group
		if uErr := json.Unmarshal(data, &g); uErr != nil {
			logger.Error().Err(uErr).Msg("failed to unmarshal group payload")
			return
		}
		logger.Info().
			Str("groupID", g.ID).
			Str("name", g.Name).
			Int("members", len(g.Members)).
			Msg("group " + verb)
		if logger.GetLevel() <= zerolog.DebugLevel {
			os.Stdout.WriteString(spew.Sdump(g))
		}
	}

	c := client.New(client.Config{
		Logger:   &logger,
		BaseURL:  *serverURL,
		Resource: *resource,
		Tokens:   client.StaticTokenProvider(*token),
		Wakeups:  wakeups,
		Handlers: client.Handlers{
			OnCreate: func(data json.RawMessage) { logGroup("created", data) },
			OnUpdate: func(data json.RawMessage) { logGroup("updated", data) },
			OnDelete: func(id string) {
				logger.Info().Str("groupID", id).Msg("group deleted")
			},
			OnMemberAdded: func(groupID string, m model.Member) {
				logger.Info().
					Str("groupID", groupID).
					Str("memberID", m.ID).
					Str("name", m.Name).
					Str("role", m.Role).
					Msg("member added")
			},
			OnMemberRemoved: func(groupID, memberID string) {
				logger.Info().
					Str("groupID", groupID).
					Str("memberID", memberID).
					Msg("member removed")
			},
			OnMemberRoleUpdated: func(groupID, memberID, role string) {
				logger.Info().
					Str("groupID", groupID).
					Str("memberID", memberID).
					Str("role", role).
					Msg("member role updated")
			},
			OnConnectionChange: func(connected bool) {
				logger.Info().Bool("connected", connected).Msg("connection state changed")
			},
		},
	})

	c.Connect()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Warn().Msg("interrupted")
	c.Close()
}
