package task

// TaskOption - изменение одного поля задачи при обновлении.
// nil-опции пропускаются сервисом.
type TaskOption func(*Task)

func WithTitle(title string) TaskOption {
	return func(task *Task) {
		task.Title = title
	}
}

func WithDescription(description string) TaskOption {
	return func(task *Task) {
		task.Description = description
	}
}

func WithStatus(status Status) TaskOption {
	if status == "" {
		return nil
	}
	return func(task *Task) {
		task.Status = status
	}
}

func WithPriority(priority int) TaskOption {
	return func(task *Task) {
		task.Priority = priority
	}
}

func WithCompleted(completed bool) TaskOption {
	return func(task *Task) {
		task.Completed = completed
	}
}

// Apply применяет опции к копии задачи, исходная задача не меняется
func Apply(t *Task, options ...TaskOption) *Task {
	updated := t.Clone()
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(updated)
	}
	return updated
}

// CompletedIntent возвращает значение completed, явно заданное опциями, или nil
func CompletedIntent(options ...TaskOption) *bool {
	unset := Apply(&Task{}, options...)
	set := Apply(&Task{Completed: true}, options...)
	if unset.Completed != set.Completed {
		return nil
	}
	completed := unset.Completed
	return &completed
}

// SyncCompletion приводит пару (status, completed) к согласованному виду.
// before - состояние до изменения, after - после применения опций,
// completed - явно переданный флаг (см. CompletedIntent).
// Явный completed=true всегда побеждает статус.
func SyncCompletion(before, after *Task, completed *bool) {
	switch {
	case completed != nil && *completed:
		after.Status = StatusCompleted
		after.Completed = true
	case completed != nil && before.Status == StatusCompleted && after.Status == StatusCompleted:
		// снятие отметки о выполнении возвращает задачу в работу
		after.Status = StatusPending
		after.Completed = false
	default:
		after.Completed = after.Status == StatusCompleted
	}
}
