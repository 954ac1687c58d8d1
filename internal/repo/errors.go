package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrStateConflict — conditional update не прошёл: текущий статус
	// записи отличается от ожидаемого. Так отсекаются устаревшие
	// повторные доставки и гонки между Engine и Reconciler.
	ErrStateConflict = errors.New("state conflict")
)
