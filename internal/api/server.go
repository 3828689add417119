// Package api exposes the session feed and the session lifecycle
// endpoints. It holds no business logic: handlers validate, delegate
// and serialize.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"classhub/internal/directory"
	"classhub/internal/feed"
	"classhub/internal/room"
	"classhub/pkg/identifier"
	"classhub/pkg/types"
)

// SessionDirectory is the storage surface the API needs. Declared here
// to avoid coupling handlers to the concrete store.
type SessionDirectory interface {
	CreateSession(ctx context.Context, rec *types.SessionRecord) error
	GetSession(ctx context.Context, id identifier.ID) (*types.SessionRecord, error)
	EndSession(ctx context.Context, id identifier.ID) error
	MergeMetadata(ctx context.Context, id identifier.ID, patch map[string]interface{}) error
	FindRange(ctx context.Context, q directory.Query) ([]*types.SessionRecord, error)
	HealthCheck(ctx context.Context) error
}

// Transport is the namespace surface the API needs: room delivery for
// lifecycle notifications plus counters for the health endpoint.
type Transport interface {
	room.Namespace
	Stats() map[string]int
}

// Server is the HTTP API layer.
type Server struct {
	dir       SessionDirectory
	transport Transport
	router    *http.ServeMux
	logger    *slog.Logger
}

// NewServer wires the routes.
func NewServer(dir SessionDirectory, transport Transport, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dir:       dir,
		transport: transport,
		router:    http.NewServeMux(),
		logger:    logger.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionPath))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type response struct {
	Success bool              `json:"success"`
	Payload interface{}       `json:"payload,omitempty"`
	Errors  []feed.FieldError `json:"errors,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendErrors(w, http.StatusMethodNotAllowed, feed.FieldError{Msg: "method not allowed"})
	}
}

// handleSessionPath dispatches /api/sessions/{roomKey}/search and
// /api/sessions/{roomKey}/{id}.
func (s *Server) handleSessionPath(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		s.sendErrors(w, http.StatusNotFound, feed.FieldError{Msg: "not found"})
		return
	}
	roomKey, tail := parts[0], parts[1]

	if !types.IsValidRoomKey(roomKey) {
		s.sendErrors(w, http.StatusUnprocessableEntity,
			feed.FieldError{Msg: "must be a valid room key", Param: "roomKey"})
		return
	}

	if len(parts) == 2 && tail == "search" {
		if r.Method != http.MethodGet {
			s.sendErrors(w, http.StatusMethodNotAllowed, feed.FieldError{Msg: "method not allowed"})
			return
		}
		s.searchSessions(w, r, roomKey)
		return
	}

	id, err := identifier.FromHex(tail)
	if err != nil {
		s.sendErrors(w, http.StatusUnprocessableEntity,
			feed.FieldError{Msg: "must be a valid session identifier", Param: "id"})
		return
	}

	if len(parts) == 3 {
		if parts[2] != "recording" || r.Method != http.MethodPost {
			s.sendErrors(w, http.StatusNotFound, feed.FieldError{Msg: "not found"})
			return
		}
		s.recordingReady(w, r, roomKey, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSession(w, r, roomKey, id)
	case http.MethodDelete:
		s.endSession(w, r, roomKey, id)
	default:
		s.sendErrors(w, http.StatusMethodNotAllowed, feed.FieldError{Msg: "method not allowed"})
	}
}

// searchSessions serves the cursor feed:
// GET /api/sessions/{roomKey}/search?firstId=&lastId=&rowPerPage=&textSearch=&types=
func (s *Server) searchSessions(w http.ResponseWriter, r *http.Request, roomKey string) {
	q := r.URL.Query()
	cursor, fieldErrs := feed.ParseCursor(feed.Request{
		FirstID:    q.Get("firstId"),
		LastID:     q.Get("lastId"),
		RowPerPage: q.Get("rowPerPage"),
		TextSearch: q.Get("textSearch"),
		Types:      q.Get("types"),
	})
	if fieldErrs != nil {
		// Caller error: rejected before any directory access, not logged
		// as a fault.
		s.sendErrors(w, http.StatusUnprocessableEntity, fieldErrs...)
		return
	}

	records, err := feed.Page(r.Context(), s.dir, roomKey, cursor)
	if err != nil {
		s.logger.Error("session feed query failed", "room", roomKey, "error", err)
		s.sendServerError(w)
		return
	}

	s.sendPayload(w, http.StatusOK, records)
}

type createSessionRequest struct {
	RoomKey          string                 `json:"room_key"`
	Name             string                 `json:"name"`
	Begin            time.Time              `json:"begin"`
	End              time.Time              `json:"end"`
	ParticipantTypes []string               `json:"participant_types"`
	Metadata         map[string]interface{} `json:"metadata"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrors(w, http.StatusBadRequest, feed.FieldError{Msg: "invalid JSON body"})
		return
	}

	var fieldErrs []feed.FieldError
	pts := make([]types.ParticipantType, 0, len(req.ParticipantTypes))
	for _, raw := range req.ParticipantTypes {
		pt, err := types.ParseParticipantType(raw)
		if err != nil {
			fieldErrs = append(fieldErrs, feed.FieldError{
				Msg:   "must be one of STUDENT, TEACHER, ADMIN, OBSERVER",
				Param: "participant_types",
			})
			continue
		}
		pts = append(pts, pt)
	}
	if fieldErrs != nil {
		s.sendErrors(w, http.StatusUnprocessableEntity, fieldErrs...)
		return
	}

	rec := &types.SessionRecord{
		RoomKey:          req.RoomKey,
		Name:             req.Name,
		TimeWindow:       types.TimeWindow{Begin: req.Begin, End: req.End},
		ParticipantTypes: pts,
		Metadata:         req.Metadata,
		Status:           types.StatusScheduled,
	}

	if err := s.dir.CreateSession(r.Context(), rec); err != nil {
		if param, ok := validationParam(err); ok {
			s.sendErrors(w, http.StatusUnprocessableEntity,
				feed.FieldError{Msg: err.Error(), Param: param})
			return
		}
		s.logger.Error("session create failed", "room", rec.RoomKey, "error", err)
		s.sendServerError(w)
		return
	}

	s.sendPayload(w, http.StatusCreated, rec)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, roomKey string, id identifier.ID) {
	rec, err := s.dir.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, directory.ErrSessionNotFound) {
			s.sendErrors(w, http.StatusNotFound, feed.FieldError{Msg: "session not found", Param: "id"})
			return
		}
		s.logger.Error("session lookup failed", "id", id, "error", err)
		s.sendServerError(w)
		return
	}
	if rec.RoomKey != roomKey {
		s.sendErrors(w, http.StatusNotFound, feed.FieldError{Msg: "session not found", Param: "id"})
		return
	}

	s.sendPayload(w, http.StatusOK, rec)
}

// endSession logically deletes a session and notifies the room. The
// notification is fire-and-forget: members that cannot be reached do
// not fail the request.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request, roomKey string, id identifier.ID) {
	if err := s.dir.EndSession(r.Context(), id); err != nil {
		if errors.Is(err, directory.ErrSessionNotFound) {
			s.sendErrors(w, http.StatusNotFound, feed.FieldError{Msg: "session not found", Param: "id"})
			return
		}
		s.logger.Error("session end failed", "id", id, "error", err)
		s.sendServerError(w)
		return
	}

	ch := room.NewChannel(s.transport, roomKey, room.WithLogger(s.logger))
	ch.Broadcast(r.Context(), types.EventSessionEnded, map[string]string{"session_id": id.Hex()})

	s.sendPayload(w, http.StatusOK, map[string]string{"message": "session ended"})
}

// recordingReady records a finished recording on the session and
// pushes the availability to everyone currently in the room.
func (s *Server) recordingReady(w http.ResponseWriter, r *http.Request, roomKey string, id identifier.ID) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrors(w, http.StatusBadRequest, feed.FieldError{Msg: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.sendErrors(w, http.StatusUnprocessableEntity,
			feed.FieldError{Msg: "is required", Param: "url"})
		return
	}

	rec, err := s.dir.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, directory.ErrSessionNotFound) {
			s.sendErrors(w, http.StatusNotFound, feed.FieldError{Msg: "session not found", Param: "id"})
			return
		}
		s.logger.Error("session lookup failed", "id", id, "error", err)
		s.sendServerError(w)
		return
	}
	if rec.RoomKey != roomKey {
		s.sendErrors(w, http.StatusNotFound, feed.FieldError{Msg: "session not found", Param: "id"})
		return
	}

	patch := map[string]interface{}{"recording_url": req.URL}
	if err := s.dir.MergeMetadata(r.Context(), id, patch); err != nil {
		s.logger.Error("metadata update failed", "id", id, "error", err)
		s.sendServerError(w)
		return
	}

	ch := room.NewChannel(s.transport, roomKey, room.WithLogger(s.logger))
	ch.Broadcast(r.Context(), types.EventRecordingReady,
		map[string]string{"session_id": id.Hex(), "url": req.URL})

	s.sendPayload(w, http.StatusOK, map[string]string{"message": "recording recorded"})
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, dbStatus := "healthy", "healthy"
	if err := s.dir.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	resp := healthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.transport.Stats(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func validationParam(err error) (string, bool) {
	switch {
	case errors.Is(err, types.ErrInvalidSessionName):
		return "name", true
	case errors.Is(err, types.ErrInvalidRoomKey):
		return "room_key", true
	case errors.Is(err, types.ErrInvalidTimeWindow):
		return "begin", true
	case errors.Is(err, types.ErrEmptyParticipantTypes),
		errors.Is(err, types.ErrUnknownParticipantType):
		return "participant_types", true
	case errors.Is(err, types.ErrInvalidStatus):
		return "status", true
	}
	return "", false
}

func (s *Server) sendPayload(w http.ResponseWriter, code int, payload interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response{Success: true, Payload: payload})
}

func (s *Server) sendErrors(w http.ResponseWriter, code int, errs ...feed.FieldError) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response{Success: false, Errors: errs})
}

func (s *Server) sendServerError(w http.ResponseWriter) {
	s.sendErrors(w, http.StatusInternalServerError, feed.FieldError{Msg: "internal server error"})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
