package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/andrei-shtanakov/collab-editor/internal/config"
	"github.com/andrei-shtanakov/collab-editor/internal/events"
	"github.com/andrei-shtanakov/collab-editor/internal/models"
	"github.com/andrei-shtanakov/collab-editor/internal/protocol"
	"github.com/andrei-shtanakov/collab-editor/internal/session"
	"github.com/andrei-shtanakov/collab-editor/internal/store"
	"github.com/andrei-shtanakov/collab-editor/internal/utils"
)

const version = "1.0.0"

type Handlers struct {
	log      *utils.Logger
	cfg      config.Config
	store    *store.Store
	registry *session.Registry
	events   *events.Publisher
}

func NewHandlers(log *utils.Logger, cfg config.Config, st *store.Store, reg *session.Registry, pub *events.Publisher) *Handlers {
	return &Handlers{log: log, cfg: cfg, store: st, registry: reg, events: pub}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:         "ok",
		Timestamp:      time.Now().UTC(),
		Version:        version,
		ActiveSessions: h.store.CountActive(),
	})
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req := models.CreateSessionRequest{
		Language:    models.LangPython,
		InitialCode: store.DefaultInitialCode,
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Language.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "unsupported language")
		return
	}
	if len(req.InitialCode) > models.MaxInitialCodeLen {
		writeError(w, http.StatusUnprocessableEntity, "initial_code too long")
		return
	}
	if len(req.Title) > models.MaxTitleLen {
		writeError(w, http.StatusUnprocessableEntity, "title too long")
		return
	}
	rec := h.store.Create(req)
	h.events.Publish(r.Context(), events.TypeCreated, rec.ID)
	h.log.Info("session created", "session", rec.ID, "language", string(rec.Language))
	writeJSON(w, http.StatusCreated, h.toResponse(rec))
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	page, total := h.store.List(limit, offset)
	resp := models.SessionListResponse{
		Sessions: make([]models.SessionResponse, 0, len(page)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for _, rec := range page {
		resp.Sessions = append(resp.Sessions, h.toResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(rec))
}

func (h *Handlers) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Language != nil && !req.Language.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "unsupported language")
		return
	}
	if req.Title != nil && len(*req.Title) > models.MaxTitleLen {
		writeError(w, http.StatusUnprocessableEntity, "title too long")
		return
	}
	rec, err := h.store.Update(chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(rec))
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	// Every live connection is closed before the delete is acknowledged.
	h.registry.Teardown(id)
	h.events.Publish(r.Context(), events.TypeDeleted, id)
	h.log.Info("session deleted", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// CollabWS is the relay transport endpoint: one persistent connection
// per participant, addressed by session id.
func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	hub, err := h.registry.Acquire(sessionID)
	if err != nil {
		closeNotFound(conn)
		return
	}
	client := session.NewClient(conn, session.Options{
		GracePeriod:    h.cfg.IdleGracePeriod,
		SendBufferSize: h.cfg.SendBufferSize,
		PingInterval:   h.cfg.PingInterval,
		PongWait:       h.cfg.PongWait,
		WriteWait:      h.cfg.WriteWait,
		MaxMessageSize: h.cfg.MaxMessageSize,
	})
	if err := hub.Attach(client); err != nil {
		// The hub raced against disposal; indistinguishable from an
		// unknown session as far as the client is concerned.
		closeNotFound(conn)
		return
	}
	h.log.Info("client connected", "session", sessionID, "client", client.ID)
	client.Run(hub)
	h.log.Info("client disconnected", "session", sessionID, "client", client.ID)
}

func closeNotFound(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(protocol.CloseSessionNotFound, "session not found"), deadline)
	_ = conn.Close()
}

func (h *Handlers) toResponse(rec store.Session) models.SessionResponse {
	return models.SessionResponse{
		ID:                rec.ID,
		URL:               h.cfg.BaseURL + "/?session=" + rec.ID,
		WebsocketURL:      h.cfg.WSBaseURL + "/ws/" + rec.ID,
		Language:          rec.Language,
		Title:             rec.Title,
		CreatedAt:         rec.CreatedAt,
		Status:            rec.Status,
		ParticipantsCount: h.registry.Participants(rec.ID),
	}
}

// decodeBody tolerates an absent body so POST with no payload falls
// back to the request defaults.
func decodeBody(r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}
