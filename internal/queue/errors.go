package queue

import "errors"

// Ошибки очереди.
var (
	// ErrNoTask — нет доступных задач указанных kinds.
	ErrNoTask = errors.New("no task available")

	// ErrTaskNotFound — задача не найдена.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotLeased — операция требует активного lease на задачу.
	ErrNotLeased = errors.New("task is not leased")
)
