package activity

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"classroom-api/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

var activityTypes = map[string]bool{
	"presentation": true,
	"question":     true,
	"game":         true,
	"riddle":       true,
	"challenge":    true,
}

var contentKeys = map[string]bool{
	"text":  true,
	"video": true,
	"image": true,
	"json":  true,
}

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	activities, err := h.repo.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list activities")
		return
	}

	writeJSON(w, http.StatusOK, activities)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	a, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "activity not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get activity")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	a, err := h.repo.Create(r.Context(), input, user.ID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create activity")
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	owner, err := h.repo.Owner(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "activity not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update activity")
		return
	}

	// Only the owner may edit; admins may edit anything.
	if owner != user.ID && !user.Role.Satisfies(auth.RoleAdmin) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	a, err := h.repo.Update(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "activity not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update activity")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	if err := h.repo.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "activity not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete activity")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInput(w http.ResponseWriter, r *http.Request) (ActivityInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input ActivityInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return ActivityInput{}, false
	}

	input.Type = strings.TrimSpace(input.Type)
	input.Title = strings.TrimSpace(input.Title)

	if !activityTypes[input.Type] {
		writeError(w, http.StatusBadRequest, "activity type is invalid")
		return ActivityInput{}, false
	}
	if input.Title == "" || !utf8.ValidString(input.Title) || len(input.Title) > 200 {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return ActivityInput{}, false
	}
	for _, block := range input.Content {
		if !contentKeys[block.Key] {
			writeError(w, http.StatusBadRequest, "content key is invalid")
			return ActivityInput{}, false
		}
		if !utf8.ValidString(block.Value) {
			writeError(w, http.StatusBadRequest, "content value is invalid")
			return ActivityInput{}, false
		}
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
