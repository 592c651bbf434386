package executor

import "errors"

// Ошибки адаптера движка.
var (
	// ErrTransient — временная ошибка (сеть, 5xx, 429), можно повторить.
	ErrTransient = errors.New("transient engine error")

	// ErrRejected — движок отклонил запрос (4xx).
	ErrRejected = errors.New("engine rejected request")

	// ErrExecutionNotFound — движок не знает такого выполнения.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidResponse — ответ движка не удалось разобрать.
	ErrInvalidResponse = errors.New("invalid engine response")
)
