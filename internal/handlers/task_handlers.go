package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"taskTracker/internal/handlers/dto"
	"taskTracker/internal/logger"
	"taskTracker/internal/middleware"
	"taskTracker/internal/models/task"
	"taskTracker/internal/service"
	"time"

	"go.uber.org/zap"
)

type TaskHandler struct {
	TaskService Service
}

func NewTaskHandler(taskService Service) *TaskHandler {
	return &TaskHandler{
		TaskService: taskService,
	}
}

func (h *TaskHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.TaskService.HealthCheck(r.Context()); err != nil {
		logger.ErrorCtx(r.Context(), "HTTP: Health check не пройден", err)
		responseWithJSON(w, http.StatusServiceUnavailable, toPayload("status", "unavailable"))
		return
	}
	responseWithJSON(w, http.StatusOK, toPayload("status", "ok"))
}

func (h *TaskHandler) PostTask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	owner := middleware.OwnerFromContext(r.Context())

	if !checkContentType(r, "application/json") {
		logger.WarnCtx(r.Context(), "HTTP: Неверный тип контента",
			zap.String("expected", "application/json"),
			zap.String("received", r.Header.Get("Content-Type")),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusUnsupportedMediaType, "Content-Type должен быть application/json")
		return
	}

	var request dto.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		logger.WarnCtx(r.Context(), "HTTP: ошибка чтения JSON",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "неверное тело запроса: "+err.Error())
		return
	}

	options, err := createOptions(request)
	if err != nil {
		handleError(w, r, err, "create_task")
		return
	}

	created, err := h.TaskService.CreateTask(r.Context(), owner, request.Title, request.Description, options...)
	if err != nil {
		handleError(w, r, err, "create_task")
		return
	}

	logger.InfoCtx(r.Context(), "HTTP_OUT: Задача создана",
		zap.String("task_id", created.ID.String()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusCreated))

	responseWithJSON(w, http.StatusCreated, toPayload("task", dto.FromTask(created)))
}

func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	filter, page, limit, err := parseTaskFilter(r)
	if err != nil {
		handleError(w, r, err, "list_tasks")
		return
	}

	tasks, err := h.TaskService.ListTasks(r.Context(), owner, filter)
	if err != nil {
		handleError(w, r, err, "list_tasks")
		return
	}

	responseTaskList(w, tasks, page, limit)
}

func (h *TaskHandler) GetCompletedTasks(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	page, limit, err := parsePagination(r)
	if err != nil {
		handleError(w, r, err, "list_completed")
		return
	}

	tasks, err := h.TaskService.ListCompleted(r.Context(), owner, page, limit)
	if err != nil {
		handleError(w, r, err, "list_completed")
		return
	}

	responseTaskList(w, tasks, page, limit)
}

func (h *TaskHandler) GetPendingTasks(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	page, limit, err := parsePagination(r)
	if err != nil {
		handleError(w, r, err, "list_pending")
		return
	}

	tasks, err := h.TaskService.ListPending(r.Context(), owner, page, limit)
	if err != nil {
		handleError(w, r, err, "list_pending")
		return
	}

	responseTaskList(w, tasks, page, limit)
}

func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	stats, err := h.TaskService.Stats(r.Context(), owner)
	if err != nil {
		handleError(w, r, err, "stats")
		return
	}

	responseWithJSON(w, http.StatusOK,
		toPayload("total", stats.Total),
		toPayload("completed", stats.Completed),
		toPayload("pending", stats.Pending))
}

func (h *TaskHandler) GetTaskByID(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	id, err := parseID(r)
	if err != nil {
		handleError(w, r, err, "get_task")
		return
	}

	found, err := h.TaskService.GetTask(r.Context(), owner, id)
	if err != nil {
		handleError(w, r, err, "get_task")
		return
	}

	responseWithJSON(w, http.StatusOK, toPayload("task", dto.FromTask(found)))
}

func (h *TaskHandler) UpdateTaskByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	owner := middleware.OwnerFromContext(r.Context())

	id, err := parseID(r)
	if err != nil {
		handleError(w, r, err, "update_task")
		return
	}

	if !checkContentType(r, "application/json") {
		responseWithError(w, http.StatusUnsupportedMediaType, "Content-Type должен быть application/json")
		return
	}

	var request dto.UpdateTaskRequest
	decoder := json.NewDecoder(r.Body)
	defer r.Body.Close()

	if err := decoder.Decode(&request); err != nil {
		logger.WarnCtx(r.Context(), "HTTP: ошибка чтения JSON",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "неверно переданы параметры обновления: "+err.Error())
		return
	}

	options, err := updateOptions(request)
	if err != nil {
		handleError(w, r, err, "update_task")
		return
	}

	updated, err := h.TaskService.UpdateTask(r.Context(), owner, id, options...)
	if err != nil {
		handleError(w, r, err, "update_task")
		return
	}

	logger.InfoCtx(r.Context(), "HTTP_OUT: Задача обновлена",
		zap.String("task_id", id.String()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	responseWithJSON(w, http.StatusOK, toPayload("task", dto.FromTask(updated)))
}

func (h *TaskHandler) DeleteTaskByID(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	id, err := parseID(r)
	if err != nil {
		handleError(w, r, err, "delete_task")
		return
	}

	if err := h.TaskService.DeleteTask(r.Context(), owner, id); err != nil {
		handleError(w, r, err, "delete_task")
		return
	}

	logger.InfoCtx(r.Context(), "HTTP_OUT: Задача удалена", zap.String("task_id", id.String()))
	responseWithJSON(w, http.StatusNoContent)
}

func (h *TaskHandler) GetTaskHistory(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	id, err := parseID(r)
	if err != nil {
		handleError(w, r, err, "task_history")
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		handleError(w, r, err, "task_history")
		return
	}

	events, err := h.TaskService.ListHistory(r.Context(), owner, id, filter)
	if err != nil {
		handleError(w, r, err, "task_history")
		return
	}

	responseWithJSON(w, http.StatusOK,
		toPayload("task_id", id),
		toPayload("history", dto.FromHistory(events)),
		toPayload("count", len(events)))
}

func responseTaskList(w http.ResponseWriter, tasks []*task.Task, page, limit int) {
	responseWithJSON(w, http.StatusOK,
		toPayload("tasks", dto.FromTaskList(tasks)),
		toPayload("count", len(tasks)),
		toPayload("page", page),
		toPayload("limit", limit))
}

func createOptions(request dto.CreateTaskRequest) ([]task.TaskOption, error) {
	options := []task.TaskOption{}

	if request.Priority != nil {
		if *request.Priority < 1 || *request.Priority > task.MaxPriority {
			return nil, service.NewValidationError("priority", fmt.Sprintf("приоритет должен быть в диапазоне 1..%d", task.MaxPriority))
		}
		options = append(options, task.WithPriority(*request.Priority))
	}
	if request.Status != nil {
		status, err := parseStatus("status", *request.Status)
		if err != nil {
			return nil, err
		}
		if status != nil {
			options = append(options, task.WithStatus(*status))
		}
	}
	if request.Completed != nil {
		options = append(options, task.WithCompleted(*request.Completed))
	}
	return options, nil
}

func updateOptions(request dto.UpdateTaskRequest) ([]task.TaskOption, error) {
	options := []task.TaskOption{}

	if request.Title != nil {
		options = append(options, task.WithTitle(*request.Title))
	}
	if request.Description != nil {
		options = append(options, task.WithDescription(*request.Description))
	}
	if request.Priority != nil {
		options = append(options, task.WithPriority(*request.Priority))
	}
	if request.Status != nil {
		status, err := parseStatus("status", *request.Status)
		if err != nil {
			return nil, err
		}
		if status != nil {
			options = append(options, task.WithStatus(*status))
		}
	}
	if request.Completed != nil {
		options = append(options, task.WithCompleted(*request.Completed))
	}
	return options, nil
}
