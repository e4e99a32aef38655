package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/notecollab/backend/internal/auth"
	"github.com/manpreetbhatti/notecollab/backend/internal/db"
	"github.com/manpreetbhatti/notecollab/backend/internal/protocol"
	"github.com/manpreetbhatti/notecollab/backend/internal/ws"
)

const maxTitleLength = 20

type API struct {
	hub      *ws.Hub
	router   *ws.Router
	database *db.Database
	log      *slog.Logger
}

func New(hub *ws.Hub, database *db.Database, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		hub:      hub,
		router:   ws.NewRouter(hub),
		database: database,
		log:      log,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Warn("encode json response", "err", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

// ServeWs upgrades a request routed with a {noteId} variable
func (a *API) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(a.hub, a.router, w, r)
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats(r.Context())
		if err != nil {
			a.log.Warn("db stats", "err", err)
		} else {
			stats["total_notes"] = dbStats["note_count"]
			stats["shared_notes"] = dbStats["shared_count"]
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Live room handlers

type RoomResponse struct {
	ID          string          `json:"id"`
	ActiveUsers int             `json:"active_users"`
	CurrentUser protocol.Roster `json:"current_user,omitempty"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	active := a.hub.GetActiveRooms()

	rooms := make([]RoomResponse, 0, len(active))
	for id, n := range active {
		rooms = append(rooms, RoomResponse{ID: id, ActiveUsers: n})
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"total": len(rooms),
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["noteId"]

	active := a.hub.GetActiveRooms()
	n, ok := active[noteID]
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not active")
		return
	}

	a.jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          noteID,
		ActiveUsers: n,
		CurrentUser: a.hub.GetRoster(noteID),
	})
}

// Note handlers

type NoteRequest struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	Category *string `json:"category"`
}

func (req NoteRequest) validate(create bool) string {
	if req.Title == nil {
		if create {
			return "title is required"
		}
		return ""
	}
	title := strings.TrimSpace(*req.Title)
	if title == "" {
		return "title is required"
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "title must be at most 20 characters"
	}
	*req.Title = title
	return ""
}

func (req NoteRequest) update() db.NoteUpdate {
	return db.NoteUpdate{Title: req.Title, Content: req.Content, Category: req.Category}
}

func parseNoteID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func (a *API) ListNotesHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	notes, err := a.database.ListNotes(r.Context(), auth.Owner(r.Context()), limit, offset)
	if err != nil {
		a.log.Error("list notes", "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list notes")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"notes":  notes,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(true); msg != "" {
		a.errorResponse(w, http.StatusBadRequest, msg)
		return
	}

	var content, category string
	if req.Content != nil {
		content = *req.Content
	}
	if req.Category != nil {
		category = *req.Category
	}

	note, err := a.database.CreateNote(r.Context(), auth.Owner(r.Context()), *req.Title, content, category)
	if err != nil {
		a.log.Error("create note", "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to create note")
		return
	}

	a.jsonResponse(w, http.StatusCreated, note)
}

func (a *API) GetNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(r)
	if !ok {
		a.errorResponse(w, http.StatusBadRequest, "Invalid note ID")
		return
	}

	note, err := a.database.GetNote(r.Context(), id, auth.Owner(r.Context()))
	if a.storeError(w, err, "get note") {
		return
	}

	a.jsonResponse(w, http.StatusOK, note)
}

func (a *API) UpdateNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(r)
	if !ok {
		a.errorResponse(w, http.StatusBadRequest, "Invalid note ID")
		return
	}

	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(false); msg != "" {
		a.errorResponse(w, http.StatusBadRequest, msg)
		return
	}

	note, err := a.database.UpdateNote(r.Context(), id, auth.Owner(r.Context()), req.update())
	if a.storeError(w, err, "update note") {
		return
	}

	a.jsonResponse(w, http.StatusOK, note)
}

func (a *API) DeleteNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(r)
	if !ok {
		a.errorResponse(w, http.StatusBadRequest, "Invalid note ID")
		return
	}

	err := a.database.DeleteNote(r.Context(), id, auth.Owner(r.Context()))
	if a.storeError(w, err, "delete note") {
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Note deleted"})
}

func (a *API) ShareNoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNoteID(r)
	if !ok {
		a.errorResponse(w, http.StatusBadRequest, "Invalid note ID")
		return
	}

	note, err := a.database.ShareNote(r.Context(), id, auth.Owner(r.Context()))
	if a.storeError(w, err, "share note") {
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"id":          note.ID,
		"share_token": note.ShareToken,
		"is_shared":   note.IsShared,
	})
}

// GetSharedNoteHandler needs no token: the share token is the credential
func (a *API) GetSharedNoteHandler(w http.ResponseWriter, r *http.Request) {
	note, err := a.database.GetSharedNote(r.Context(), mux.Vars(r)["token"])
	if a.storeError(w, err, "get shared note") {
		return
	}

	a.jsonResponse(w, http.StatusOK, note)
}

func (a *API) UpdateSharedNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(false); msg != "" {
		a.errorResponse(w, http.StatusBadRequest, msg)
		return
	}

	note, err := a.database.UpdateSharedNote(r.Context(), mux.Vars(r)["token"], req.update())
	if a.storeError(w, err, "update shared note") {
		return
	}

	a.jsonResponse(w, http.StatusOK, note)
}

// storeError writes the response for a failed store call and reports
// whether it did
func (a *API) storeError(w http.ResponseWriter, err error, op string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, db.ErrNotFound):
		a.errorResponse(w, http.StatusNotFound, "Note not found")
	default:
		a.log.Error(op, "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to "+op)
	}
	return true
}
