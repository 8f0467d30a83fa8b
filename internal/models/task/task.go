package task

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MinTitleLength = 10

// MaxPriority - верхняя граница приоритета, колонка priority в postgres имеет тип INTEGER
const MaxPriority = math.MaxInt32

type Task struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Owner       string    `json:"owner" db:"owner_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Priority    int       `json:"priority" db:"priority"`
	Status      Status    `json:"status" db:"status"`
	Completed   bool      `json:"completed" db:"completed"`
	Deleted     bool      `json:"deleted" db:"deleted"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Clone возвращает независимую копию задачи
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

type Status string

const StatusPending Status = "PENDING"
const StatusInProgress Status = "IN_PROGRESS"
const StatusCompleted Status = "COMPLETED"
const StatusCancelled Status = "CANCELLED"

var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// NormalizeTitle убирает пробелы по краям и переводит заголовок в верхний регистр
func NormalizeTitle(title string) string {
	return strings.ToUpper(strings.TrimSpace(title))
}

func TitleLongEnough(normalized string) bool {
	return utf8.RuneCountInString(normalized) >= MinTitleLength
}

type StatusHistoryEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TaskID     uuid.UUID `json:"task_id" db:"task_id"`
	Owner      string    `json:"owner" db:"owner_id"`
	OldStatus  Status    `json:"old_status" db:"old_status"`
	NewStatus  Status    `json:"new_status" db:"new_status"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// Filter - параметры выборки активных задач
type Filter struct {
	Completed     *bool
	Status        *Status
	TitleContains string
	Limit         int
	Offset        int
}

func (f Filter) Match(t *Task) bool {
	if t.Deleted {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.TitleContains != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(f.TitleContains)) {
		return false
	}
	return true
}

type HistoryFilter struct {
	OldStatus *Status
	NewStatus *Status
	From      *time.Time
	To        *time.Time
}

func (f HistoryFilter) Match(e *StatusHistoryEvent) bool {
	if f.OldStatus != nil && e.OldStatus != *f.OldStatus {
		return false
	}
	if f.NewStatus != nil && e.NewStatus != *f.NewStatus {
		return false
	}
	if f.From != nil && e.RecordedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.RecordedAt.After(*f.To) {
		return false
	}
	return true
}

type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}
