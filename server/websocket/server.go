package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parishdesk/parishdesk/auth"
	"github.com/parishdesk/parishdesk/metrics"
	"github.com/parishdesk/parishdesk/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give the
	// client to answer an application-level ping
	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 30 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	EventHub interface {
		Register(resource, subID string, wire model.Wire)
		Unregister(resource, subID string)
	}

	TokenVerifier interface {
		Verify(token string) (auth.Claims, error)
	}

	Config struct {
		Logger     *zerolog.Logger
		Hub        EventHub
		Verifier   TokenVerifier
		ListenAddr string
	}

	Server struct {
		hub      EventHub
		verifier TokenVerifier
		ws       *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:   cfg.Logger.With().Str("component", "event-stream-server").Logger(),
		hub:      cfg.Hub,
		verifier: cfg.Verifier,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{resourceType}/{$}", srv.stream)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) stream(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resourceType")
	if resource == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	claims, err := srv.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		metrics.WSAuthFailures.Inc()
		srv.logger.Warn().Err(err).Str("resource", resource).Msg("token rejected")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	var (
		wire  = model.NewWire()
		subID = uuid.NewString()
	)
	srv.hub.Register(resource, subID, wire)
	metrics.WSConnections.Inc()
	metrics.WSConnectionsActive.Inc()

	srv.logger.Debug().
		Str("resource", resource).
		Str("subscriber", subID).
		Str("subject", claims.Subject).
		Msg("event stream opened")

	ctx, cancel := context.WithCancel(context.TODO()) // long-living subscriber context

	go srv.handleConn(ctx, cancel, conn, resource, subID, wire)
}

func (srv *Server) handleConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	resource string,
	subID string,
	wire model.Wire,
) {
	wg := &sync.WaitGroup{}

	logger := srv.logger.With().
		Str("resource", resource).
		Str("subscriber", subID).
		Logger()

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()

	wg.Wait()
	webSocketCloser(conn, &logger)
	srv.hub.Unregister(resource, subID)
	metrics.WSConnectionsActive.Dec()
	logger.Debug().Msg("event stream closed")
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Envelope,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			if !writeEnvelope(conn, model.Envelope{Type: model.EventPing}, logger) {
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case env, ok := <-tx:
			if !ok {
				break SendLoop
			}
			if !writeEnvelope(conn, env, logger) {
				break SendLoop
			}
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env model.Envelope, logger *zerolog.Logger) bool {
	b, err := json.Marshal(&env)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal outgoing envelope")
		return false
	}
	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket write deadline")
		return false
	}
	if err = conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Error().Err(err).Msg("failed to write outgoing envelope")
		return false
	}
	return true
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	if err := readDeadLineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else {
					logger.Warn().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var env model.Envelope
			if wsErr = json.Unmarshal(msg, &env); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to unmarshal incoming message")
				continue
			}
			switch env.Type {
			case model.EventPong:
				logger.Trace().Msg("got pong")
				if wsErr = readDeadLineFunc(defaultPongWait); wsErr != nil {
					logger.Error().Err(wsErr).Msg("failed to extend websocket read deadline")
					break RecvLoop
				}
			default:
				logger.Debug().Str("type", env.Type).Msg("unexpected inbound message type")
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to write close message")
		}
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
