package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"taskTracker/internal/models/task"
	"taskTracker/internal/service"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

func checkContentType(r *http.Request, target string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == target
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, service.NewValidationError("id", "ожидается UUID")
	}
	if id == uuid.Nil {
		return uuid.Nil, service.NewValidationError("id", "id не может быть пустым")
	}
	return id, nil
}

// parsePagination: page с 1, limit по умолчанию 20, не больше 100
func parsePagination(r *http.Request) (int, int, error) {
	page, limit := 1, defaultLimit
	query := r.URL.Query()

	if raw := query.Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return 0, 0, service.NewValidationError("page", "ожидается целое число больше нуля")
		}
		page = v
	}
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxLimit {
			return 0, 0, service.NewValidationError("limit", fmt.Sprintf("ожидается целое число от 1 до %d", maxLimit))
		}
		limit = v
	}
	return page, limit, nil
}

func parseStatus(field, raw string) (*task.Status, error) {
	if raw == "" {
		return nil, nil
	}
	status, ok := task.ParseStatus(raw)
	if !ok {
		return nil, service.NewValidationError(field, fmt.Sprintf("неизвестный статус %q", raw))
	}
	return &status, nil
}

func parseTaskFilter(r *http.Request) (task.Filter, int, int, error) {
	page, limit, err := parsePagination(r)
	if err != nil {
		return task.Filter{}, 0, 0, err
	}

	query := r.URL.Query()
	filter := task.Filter{
		TitleContains: query.Get("title"),
		Limit:         limit,
		Offset:        (page - 1) * limit,
	}

	if filter.Status, err = parseStatus("status", query.Get("status")); err != nil {
		return task.Filter{}, 0, 0, err
	}

	if raw := query.Get("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			return task.Filter{}, 0, 0, service.NewValidationError("completed", "ожидается true или false")
		}
		filter.Completed = &completed
	}
	return filter, page, limit, nil
}

func parseHistoryFilter(r *http.Request) (task.HistoryFilter, error) {
	query := r.URL.Query()
	filter := task.HistoryFilter{}

	var err error
	if filter.OldStatus, err = parseStatus("old_status", query.Get("old_status")); err != nil {
		return filter, err
	}
	if filter.NewStatus, err = parseStatus("new_status", query.Get("new_status")); err != nil {
		return filter, err
	}

	for field, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := query.Get(field)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, service.NewValidationError(field, "ожидается время в формате RFC3339")
		}
		*target = &ts
	}

	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return filter, service.NewValidationError("from", "начало периода позже конца")
	}
	return filter, nil
}
