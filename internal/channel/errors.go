package channel

import "errors"

// Ошибки канала завершения.
var (
	// ErrNotReady — exit code ещё не записан (run выполняется).
	ErrNotReady = errors.New("completion not ready")

	// ErrMalformed — объект exit code есть, но распарсить его нельзя.
	ErrMalformed = errors.New("malformed completion payload")
)
