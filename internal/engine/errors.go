package engine

import "errors"

// Ошибки engine.
var (
	// ErrDependencyNotSatisfied — последний run зависимости отсутствует
	// или не SUCCEEDED. Run падает сразу, без ретраев: повторный запуск
	// придёт от dependency watcher'а, когда зависимость выполнится.
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")

	// ErrNotCancellable — попытка отменить уже терминальный run.
	ErrNotCancellable = errors.New("run is not cancellable")

	// ErrNoSnapshot — у pipeline нет ни одной версии snapshot.
	ErrNoSnapshot = errors.New("pipeline has no snapshot")
)
