// Package api exposes the sync core over HTTP for local tooling and UIs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vanadium23/wolfcal-sub000/internal/export"
	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
	"github.com/vanadium23/wolfcal-sub000/internal/syncer"
)

type Handler struct {
	store  store.Store
	orch   *syncer.Orchestrator
	proc   *syncer.Processor
	editor *syncer.Editor
	logger *zap.Logger
}

func NewHandler(st store.Store, orch *syncer.Orchestrator, proc *syncer.Processor, editor *syncer.Editor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  st,
		orch:   orch,
		proc:   proc,
		editor: editor,
		logger: logger.Named("api"),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.healthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/{accountID}", h.triggerSync)
		r.Post("/sync/{accountID}/{calendarID}", h.triggerCalendarSync)
		r.Get("/sync/{accountID}/{calendarID}/status", h.syncStatus)

		r.Get("/accounts/{accountID}/calendars", h.listCalendars)
		r.Get("/accounts/{accountID}/calendars/{calendarID}/events", h.listEvents)
		r.Get("/accounts/{accountID}/calendars/{calendarID}/export.ics", h.exportICS)

		r.Post("/events", h.createEvent)
		r.Put("/events/{eventID}", h.updateEvent)
		r.Delete("/events/{eventID}", h.deleteEvent)
		r.Post("/events/{eventID}/respond", h.respondToInvitation)

		r.Get("/conflicts", h.listConflicts)
		r.Post("/conflicts/{eventID}/resolve", h.resolveConflict)

		r.Get("/queue", h.listQueue)
		r.Post("/queue/drain", h.drainQueue)
		r.Post("/queue/{changeID}/retry", h.retryChange)
		r.Delete("/queue/{changeID}", h.discardChange)

		r.Get("/errors", h.listErrors)

		r.Get("/connectivity", h.getConnectivity)
		r.Put("/connectivity", h.setConnectivity)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	res, err := h.orch.SyncAccount(r.Context(), accountID)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.logger.Error("account sync failed", zap.String("account_id", accountID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) triggerCalendarSync(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	calendarID := chi.URLParam(r, "calendarID")
	res, err := h.orch.SyncCalendar(r.Context(), accountID, calendarID)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.logger.Error("calendar sync failed",
			zap.String("account_id", accountID),
			zap.String("calendar_id", calendarID),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	meta, err := h.store.GetSyncMetadata(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "calendarID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) listCalendars(w http.ResponseWriter, r *http.Request) {
	cals, err := h.store.ListCalendars(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cals)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListEventsByCalendar(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "calendarID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) exportICS(w http.ResponseWriter, r *http.Request) {
	body, err := export.Calendar(r.Context(), h.store, chi.URLParam(r, "accountID"), chi.URLParam(r, "calendarID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.editor.CreateEvent(r.Context(), &ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ev.ID = chi.URLParam(r, "eventID")
	if err := h.editor.UpdateEvent(r.Context(), &ev); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.editor.DeleteEvent(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (h *Handler) respondToInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Response model.ResponseStatus `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Response {
	case model.ResponseAccepted, model.ResponseDeclined, model.ResponseTentative:
	default:
		writeError(w, http.StatusBadRequest, errors.New("response must be accepted, declined or tentative"))
		return
	}
	if err := h.editor.RespondToInvitation(r.Context(), chi.URLParam(r, "eventID"), req.Response); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.store.ListConflicts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (h *Handler) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Choice syncer.ResolutionChoice `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Choice {
	case syncer.ResolveKeepLocal, syncer.ResolveKeepRemote, syncer.ResolveDefer:
	default:
		writeError(w, http.StatusBadRequest, errors.New("choice must be local, remote or defer"))
		return
	}
	if err := h.orch.Resolve(r.Context(), chi.URLParam(r, "eventID"), req.Choice); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	changes, err := h.store.ListPendingChanges(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (h *Handler) drainQueue(w http.ResponseWriter, r *http.Request) {
	res, err := h.proc.Drain(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) retryChange(w http.ResponseWriter, r *http.Request) {
	if err := h.proc.RetryChange(r.Context(), chi.URLParam(r, "changeID")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

func (h *Handler) discardChange(w http.ResponseWriter, r *http.Request) {
	if err := h.proc.DiscardChange(r.Context(), chi.URLParam(r, "changeID")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (h *Handler) listErrors(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = t
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.store.ListErrorLog(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.proc.Online()})
}

func (h *Handler) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.proc.SetOnline(r.Context(), req.Online); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
