// Package server exposes tables over HTTP and pushes their changes to
// websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tabletop/internal/game"
	"tabletop/internal/monitor"
	"tabletop/internal/storage"
	"tabletop/internal/table"
)

// UserHeader carries the id of the calling user. Authentication happens in
// front of this server.
const UserHeader = "X-User-ID"

// Server is the HTTP server.
type Server struct {
	mux     *http.ServeMux
	manager *table.Manager
	hub     *Hub
	metrics *monitor.Metrics
	log     *zap.Logger
}

// New creates a server with all routes. metrics may be nil.
func New(manager *table.Manager, metrics *monitor.Metrics, log *zap.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		manager: manager,
		metrics: metrics,
		log:     log,
	}
	s.hub = NewHub(manager, metrics, log)
	manager.Subscribe(s.hub)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/games", s.handleListGames)
	s.mux.HandleFunc("GET /api/tables", s.handleListTables)
	s.mux.HandleFunc("POST /api/tables", s.handleCreateTable)
	s.mux.HandleFunc("GET /api/tables/{id}", s.handleGetTable)
	s.mux.HandleFunc("GET /api/tables/{id}/view", s.handleView)
	s.mux.HandleFunc("GET /api/tables/{id}/log", s.handleLog)
	s.mux.HandleFunc("GET /api/tables/{id}/ws", s.hub.handleWebSocket)

	s.mux.HandleFunc("POST /api/tables/{id}/invite", s.handleInvite)
	s.mux.HandleFunc("POST /api/tables/{id}/kick", s.handleKick)
	s.mux.HandleFunc("POST /api/tables/{id}/options", s.handleOptions)
	s.mux.HandleFunc("POST /api/tables/{id}/perform", s.handlePerform)
	s.mux.HandleFunc("POST /api/tables/{id}/accept", s.simple(s.manager.Accept))
	s.mux.HandleFunc("POST /api/tables/{id}/reject", s.simple(s.manager.Reject))
	s.mux.HandleFunc("POST /api/tables/{id}/join", s.simple(s.manager.Join))
	s.mux.HandleFunc("POST /api/tables/{id}/computer", s.simple(s.manager.AddComputer))
	s.mux.HandleFunc("POST /api/tables/{id}/start", s.simple(s.manager.Start))
	s.mux.HandleFunc("POST /api/tables/{id}/skip", s.simple(s.manager.Skip))
	s.mux.HandleFunc("POST /api/tables/{id}/end-turn", s.simple(s.manager.EndTurn))
	s.mux.HandleFunc("POST /api/tables/{id}/leave", s.simple(s.manager.Leave))
	s.mux.HandleFunc("POST /api/tables/{id}/abandon", s.simple(s.manager.Abandon))
	s.mux.HandleFunc("POST /api/tables/{id}/propose-leave", s.simple(s.manager.ProposeToLeave))
	s.mux.HandleFunc("POST /api/tables/{id}/agree-leave", s.simple(s.manager.AgreeToLeave))
	s.mux.HandleFunc("POST /api/tables/{id}/undo", s.simple(s.manager.Undo))
	s.mux.HandleFunc("POST /api/tables/{id}/revert", s.handleRevert)
	s.mux.HandleFunc("POST /api/tables/{id}/public", s.simple(s.manager.MakePublic))
	s.mux.HandleFunc("POST /api/tables/{id}/private", s.simple(s.manager.MakePrivate))
	s.mux.HandleFunc("POST /api/tables/{id}/type", s.handleChangeType)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Hub returns the websocket hub, for closing connections on shutdown.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Registry().List())
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.manager.List(r.Context(), table.Status(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	summaries := make([]tableSummary, 0, len(tables))
	for _, t := range tables {
		if t.Public || t.SeatOf(userID(r)) != nil {
			summaries = append(summaries, summarize(t))
		}
	}
	writeJSON(w, http.StatusOK, summaries)
}

type tableSummary struct {
	ID       string          `json:"id"`
	GameID   string          `json:"gameId"`
	Type     table.Type      `json:"type"`
	Mode     table.Mode      `json:"mode"`
	Public   bool            `json:"public"`
	Status   table.Status    `json:"status"`
	OwnerID  string          `json:"ownerId"`
	Options  game.Options    `json:"options"`
	Players  []*table.Player `json:"players"`
	Progress int             `json:"progress"`
	Revision int             `json:"revision"`
}

func summarize(t *table.Table) tableSummary {
	return tableSummary{
		ID:       t.ID,
		GameID:   t.GameID,
		Type:     t.Type,
		Mode:     t.Mode,
		Public:   t.Public,
		Status:   t.Status,
		OwnerID:  t.OwnerID,
		Options:  t.Options,
		Players:  t.Players,
		Progress: t.Progress,
		Revision: t.Revision,
	}
}

type createTableRequest struct {
	GameID  string       `json:"gameId"`
	Type    table.Type   `json:"type"`
	Mode    table.Mode   `json:"mode"`
	Public  bool         `json:"public"`
	Options game.Options `json:"options"`
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	req.GameID = strings.TrimSpace(req.GameID)
	if req.GameID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("gameId required"))
		return
	}
	if req.Type == "" {
		req.Type = table.Realtime
	}
	if req.Mode == "" {
		req.Mode = table.Normal
	}
	t, err := s.manager.Create(r.Context(), req.GameID, user, table.Settings{
		Type: req.Type, Mode: req.Mode, Public: req.Public, Options: req.Options,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(t))
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(t))
}

type viewResponse struct {
	Table         tableSummary   `json:"table"`
	State         any            `json:"state"`
	ValidCommands []game.Command `json:"validCommands"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := viewFor(t, userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func viewFor(t *table.Table, user string) (viewResponse, error) {
	state, err := t.View(user)
	if err != nil {
		return viewResponse{}, err
	}
	commands := t.ValidCommands(user)
	if commands == nil {
		commands = []game.Command{}
	}
	return viewResponse{Table: summarize(t), State: state, ValidCommands: commands}, nil
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("since must be a non-negative integer"))
			return
		}
		since = n
	}
	t, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries := t.Since(since)
	if entries == nil {
		entries = []table.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type userRequest struct {
	UserID   string `json:"userId"`
	PlayerID string `json:"playerId"`
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("userId required"))
		return
	}
	t, err := s.manager.Invite(r.Context(), r.PathValue("id"), user, strings.TrimSpace(req.UserID))
	s.respond(w, t, err)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("playerId required"))
		return
	}
	t, err := s.manager.Kick(r.Context(), r.PathValue("id"), user, req.PlayerID)
	s.respond(w, t, err)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var opts game.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid options"))
		return
	}
	t, err := s.manager.ChangeOptions(r.Context(), r.PathValue("id"), user, opts)
	s.respond(w, t, err)
}

func (s *Server) handlePerform(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("unreadable body"))
		return
	}
	cmd, err := game.ParseCommand(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.manager.Perform(r.Context(), r.PathValue("id"), user, cmd)
	s.respond(w, t, err)
}

type revertRequest struct {
	Seq int `json:"seq"`
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req revertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seq <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("seq required"))
		return
	}
	t, err := s.manager.RevertTo(r.Context(), r.PathValue("id"), user, req.Seq)
	s.respond(w, t, err)
}

type typeRequest struct {
	Type table.Type `json:"type"`
}

func (s *Server) handleChangeType(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req typeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	t, err := s.manager.ChangeType(r.Context(), r.PathValue("id"), user, req.Type)
	s.respond(w, t, err)
}

type tableOp func(ctx context.Context, id, userID string) (*table.Table, error)

// simple adapts a manager operation that needs only the table and the user.
func (s *Server) simple(op tableOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r)
		if !ok {
			return
		}
		t, err := op(r.Context(), r.PathValue("id"), user)
		s.respond(w, t, err)
	}
}

func (s *Server) respond(w http.ResponseWriter, t *table.Table, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(t))
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := userID(r)
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody(UserHeader+" header required"))
		return "", false
	}
	return user, true
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var engine *game.EngineError
	switch {
	case errors.As(err, &engine):
		return http.StatusInternalServerError
	case errors.Is(err, table.ErrNotFound), errors.Is(err, game.ErrGameNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotCurrentPlayer), errors.Is(err, table.ErrForbidden), errors.Is(err, table.ErrNotSeated):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrConcurrentModification), errors.Is(err, table.ErrWrongStatus),
		errors.Is(err, table.ErrAlreadySeated), errors.Is(err, table.ErrTableFull), errors.Is(err, game.ErrGameEnded),
		errors.Is(err, table.ErrCannotUndo):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidAction), errors.Is(err, game.ErrInvalidPlayers),
		errors.Is(err, game.ErrInvalidOptions), errors.Is(err, game.ErrAutomaNotSupported),
		errors.Is(err, table.ErrTurnNotExpired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
