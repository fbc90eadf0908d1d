// Package api exposes HTTP handlers for the progress engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"example.com/progress/internal/auth"
	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
	"example.com/progress/internal/progress"
)

// ProgressReader is the read and control surface of the tracker.
type ProgressReader interface {
	State() progress.State
	Snapshot() progress.Snapshot
	Windows() []int
	Reload(ctx context.Context) error
	ActiveDays(ctx context.Context, from, to domain.Day) ([]domain.DayActivity, error)
	RecentCompletions(ctx context.Context, limit int) ([]domain.CompletionRecord, error)
}

// Limits for GET /v1/completions.
const (
	DefaultCompletionsLimit = 20
	MaxCompletionsLimit     = 100
)

// Publisher accepts completion events.
type Publisher interface {
	Publish(ctx context.Context, topic events.Topic, record domain.CompletionRecord) (events.Event, error)
}

// Handler coordinates HTTP requests with the tracker and the event bus.
type Handler struct {
	tracker ProgressReader
	bus     Publisher
}

// NewHandler builds a Handler.
func NewHandler(tracker ProgressReader, bus Publisher) *Handler {
	return &Handler{tracker: tracker, bus: bus}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	read := func(fn http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeProgressRead, fn) }
	write := func(fn http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeProgressWrite, fn) }

	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.Handle("GET /v1/progress", read(h.getProgress))
	mux.Handle("GET /v1/progress/coverage", read(h.getCoverage))
	mux.Handle("GET /v1/progress/days", read(h.getActiveDays))
	mux.Handle("GET /v1/completions", read(h.getCompletions))
	mux.Handle("POST /v1/progress/reload", write(h.reload))
	mux.Handle("POST /v1/completions", write(h.postCompletion(events.TopicActivityCompleted)))
	mux.Handle("POST /v1/wellness-completions", write(h.postCompletion(events.TopicWellnessActivityCompleted)))
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if state := h.tracker.State(); state != progress.StateReady {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "tracker is "+state.String())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toProgressView(h.tracker.State(), h.tracker.Snapshot()))
}

func (h *Handler) getCoverage(w http.ResponseWriter, r *http.Request) {
	snap := h.tracker.Snapshot()

	window := snap.PrimaryWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "window must be a positive number of days")
			return
		}
		window = parsed
	}
	byCategory, ok := snap.Coverage[window]
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_failed", "window is not tracked; tracked windows: "+joinInts(h.tracker.Windows()))
		return
	}

	resp := CoverageResponse{
		WindowDays:  window,
		Consistency: snap.Consistency[window],
		ComputedAt:  snap.ComputedAt,
		Coverage:    make(map[string]float64, len(byCategory)),
	}
	if raw := r.URL.Query().Get("category"); raw != "" {
		category, err := domain.ParseCategory(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		resp.Coverage[category.String()] = byCategory[category]
	} else {
		for category, v := range byCategory {
			resp.Coverage[category.String()] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getActiveDays(w http.ResponseWriter, r *http.Request) {
	var from, to domain.Day
	for name, dst := range map[string]*domain.Day{"from": &from, "to": &to} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		day, err := domain.ParseDay(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", name+" must be a YYYY-MM-DD date")
			return
		}
		*dst = day
	}

	days, err := h.tracker.ActiveDays(r.Context(), from, to)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActiveDaysResponse{Days: days})
}

func (h *Handler) getCompletions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultCompletionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > MaxCompletionsLimit {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be between 1 and "+strconv.Itoa(MaxCompletionsLimit))
			return
		}
		limit = parsed
	}

	recent, err := h.tracker.RecentCompletions(r.Context(), limit)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CompletionsResponse{Completions: recent})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Reload(r.Context()); err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressView(h.tracker.State(), h.tracker.Snapshot()))
}

func (h *Handler) postCompletion(topic events.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		record, err := req.Record(topic)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		evt, err := h.bus.Publish(r.Context(), topic, record)
		if err != nil {
			if errors.Is(err, events.ErrBusClosed) {
				writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, CompletionResponse{
			EventID:     evt.ID.String(),
			Topic:       string(evt.Topic),
			PublishedAt: evt.PublishedAt,
		})
	}
}

// CompletionRequest is the payload for both completion endpoints.
type CompletionRequest struct {
	ActivityID      string    `json:"activity_id"`
	Category        string    `json:"category"`
	CompletedAt     time.Time `json:"completed_at,omitzero"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Record validates the request for topic and converts it. Wellness
// completions must name a wellness type.
func (r CompletionRequest) Record(topic events.Topic) (domain.CompletionRecord, error) {
	if strings.TrimSpace(r.ActivityID) == "" {
		return domain.CompletionRecord{}, errors.New("activity_id is required")
	}
	category, err := domain.ParseCategory(r.Category)
	if err != nil {
		return domain.CompletionRecord{}, err
	}
	if topic == events.TopicWellnessActivityCompleted && category.Kind() != domain.KindWellness {
		return domain.CompletionRecord{}, errors.New("category must be a wellness type")
	}
	if r.DurationSeconds < 0 {
		return domain.CompletionRecord{}, errors.New("duration_seconds must be >= 0")
	}
	return domain.CompletionRecord{
		ActivityID:      r.ActivityID,
		Category:        category,
		Timestamp:       r.CompletedAt,
		DurationSeconds: r.DurationSeconds,
	}, nil
}

// CompletionResponse acknowledges an accepted completion. Metrics update
// asynchronously.
type CompletionResponse struct {
	EventID     string    `json:"event_id"`
	Topic       string    `json:"topic"`
	PublishedAt time.Time `json:"published_at"`
}

// ProgressView is the body of GET /v1/progress.
type ProgressView struct {
	State            string                        `json:"state"`
	Sequence         uint64                        `json:"sequence"`
	ComputedAt       time.Time                     `json:"computed_at"`
	CurrentStreak    int                           `json:"current_streak"`
	ActiveStreak     int                           `json:"active_streak"`
	LastActivityDay  string                        `json:"last_activity_day,omitempty"`
	TotalCompletions int                           `json:"total_completions"`
	PrimaryWindow    int                           `json:"primary_window_days"`
	Coverage         map[string]map[string]float64 `json:"coverage"`
	Consistency      map[string]float64            `json:"consistency"`
	Wellness         map[string]float64            `json:"wellness"`
	DailyProgress    float64                       `json:"daily_progress"`
	WeeklyProgress   float64                       `json:"weekly_progress"`
	NextWeeklyReset  time.Time                     `json:"next_weekly_reset"`
}

// ActiveDaysResponse is the body of GET /v1/progress/days.
type ActiveDaysResponse struct {
	Days []domain.DayActivity `json:"days"`
}

// CompletionsResponse is the body of GET /v1/completions, newest first.
type CompletionsResponse struct {
	Completions []domain.CompletionRecord `json:"completions"`
}

// CoverageResponse is the body of GET /v1/progress/coverage.
type CoverageResponse struct {
	WindowDays  int                `json:"window_days"`
	Coverage    map[string]float64 `json:"coverage"`
	Consistency float64            `json:"consistency"`
	ComputedAt  time.Time          `json:"computed_at"`
}

func toProgressView(state progress.State, snap progress.Snapshot) ProgressView {
	view := ProgressView{
		State:            state.String(),
		Sequence:         snap.Sequence,
		ComputedAt:       snap.ComputedAt,
		CurrentStreak:    snap.CurrentStreak,
		ActiveStreak:     snap.ActiveStreak,
		TotalCompletions: snap.TotalCompletions,
		PrimaryWindow:    snap.PrimaryWindow,
		Coverage:         make(map[string]map[string]float64, len(snap.Coverage)),
		Consistency:      make(map[string]float64, len(snap.Consistency)),
		Wellness:         make(map[string]float64, len(snap.Wellness)),
		DailyProgress:    snap.DailyProgress,
		WeeklyProgress:   snap.WeeklyProgress,
		NextWeeklyReset:  snap.NextWeeklyReset,
	}
	if !snap.LastActivityDay.IsZero() {
		view.LastActivityDay = snap.LastActivityDay.String()
	}
	for window, byCategory := range snap.Coverage {
		inner := make(map[string]float64, len(byCategory))
		for category, v := range byCategory {
			inner[category.String()] = v
		}
		view.Coverage[strconv.Itoa(window)] = inner
	}
	for window, v := range snap.Consistency {
		view.Consistency[strconv.Itoa(window)] = v
	}
	for category, v := range snap.Wellness {
		view.Wellness[category.String()] = v
	}
	return view
}

func joinInts(values []int) string {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, progress.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
