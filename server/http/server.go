package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parishdesk/parishdesk/model"
	"github.com/parishdesk/parishdesk/service"
	"github.com/parishdesk/parishdesk/storage/memory"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type GroupService interface {
	CreateGroup(ctx context.Context, g model.Group) (*model.Group, error)
	GetGroup(ctx context.Context, groupID string) (*model.Group, error)
	ListGroups(ctx context.Context) []*model.Group
	UpdateGroup(ctx context.Context, groupID string, upd model.Group) (*model.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
	AddMember(ctx context.Context, groupID string, m model.Member) (*model.Member, error)
	RemoveMember(ctx context.Context, groupID, memberID string) error
	UpdateMemberRole(ctx context.Context, groupID, memberID, role string) (*model.Member, error)
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

type Server struct {
	logger zerolog.Logger
	svc    GroupService
	*http.Server
}

type Config struct {
	Logger       *zerolog.Logger
	GroupService GroupService
	ListenAddr   string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.GroupService,
	}

	r := http.NewServeMux()
	r.HandleFunc("POST /api/groups", srv.createGroup)
	r.HandleFunc("GET /api/groups", srv.listGroups)
	r.HandleFunc("GET /api/groups/{groupID}", srv.getGroup)
	r.HandleFunc("PUT /api/groups/{groupID}", srv.updateGroup)
	r.HandleFunc("DELETE /api/groups/{groupID}", srv.deleteGroup)
	r.HandleFunc("POST /api/groups/{groupID}/members", srv.addMember)
	r.HandleFunc("DELETE /api/groups/{groupID}/members/{memberID}", srv.removeMember)
	r.HandleFunc("PATCH /api/groups/{groupID}/members/{memberID}/role", srv.updateMemberRole)
	r.HandleFunc("GET /healthz", healthz)
	r.Handle("GET /metrics", promhttp.Handler())
	r.HandleFunc("OPTIONS /", corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var g model.Group
	if !srv.readBody(w, r, &g) {
		return
	}
	created, err := srv.svc.CreateGroup(r.Context(), g)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeData(w, http.StatusCreated, created)
}

func (srv *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	srv.writeData(w, http.StatusOK, srv.svc.ListGroups(r.Context()))
}

func (srv *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := srv.svc.GetGroup(r.Context(), r.PathValue("groupID"))
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeData(w, http.StatusOK, g)
}

func (srv *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	var g model.Group
	if !srv.readBody(w, r, &g) {
		return
	}
	updated, err := srv.svc.UpdateGroup(r.Context(), r.PathValue("groupID"), g)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeData(w, http.StatusOK, updated)
}

func (srv *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := srv.svc.DeleteGroup(r.Context(), r.PathValue("groupID")); err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeMessage(w, http.StatusOK, "OK")
}

func (srv *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var m model.Member
	if !srv.readBody(w, r, &m) {
		return
	}
	added, err := srv.svc.AddMember(r.Context(), r.PathValue("groupID"), m)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeData(w, http.StatusCreated, added)
}

func (srv *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	err := srv.svc.RemoveMember(r.Context(), r.PathValue("groupID"), r.PathValue("memberID"))
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeMessage(w, http.StatusOK, "OK")
}

func (srv *Server) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !srv.readBody(w, r, &req) {
		return
	}
	updated, err := srv.svc.UpdateMemberRole(
		r.Context(), r.PathValue("groupID"), r.PathValue("memberID"), req.Role)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeData(w, http.StatusOK, updated)
}

func (srv *Server) readBody(w http.ResponseWriter, r *http.Request, v any) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	body, _ := io.ReadAll(r.Body)
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.Unmarshal(body, v); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	srv.logger.Trace().Any("request", v).Msg("got request")
	return true
}

// writeError maps service and store errors to status codes.
func (srv *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrGroupNotFound), errors.Is(err, memory.ErrMemberNotFound):
		code = http.StatusNotFound
	case errors.Is(err, memory.ErrDuplicateMember):
		code = http.StatusConflict
	case errors.Is(err, service.ErrInvalidRole):
		code = http.StatusBadRequest
	}
	srv.writeJSON(w, code, &GenericResponse{Error: err.Error()})
}

func (srv *Server) writeData(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	srv.writeJSON(w, code, &GenericResponse{Message: "OK", Data: data})
}

func (srv *Server) writeMessage(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	srv.writeJSON(w, code, &GenericResponse{Message: msg})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}
