// Package executor — HTTP-адаптер к внешнему движку выполнения.
//
// Протокол (JSON):
//   - POST /v1/executions              — запуск, ответ {"execution_id": "..."}
//   - GET  /v1/executions/{id}         — статус {"state", "error", "artifacts"}
//   - POST /v1/executions/{id}/cancel  — отмена
//   - GET  /healthz                    — состояние движка
//
// Сетевые ошибки и ответы 5xx/429 оборачиваются в ErrTransient:
// вызывающий повторяет операцию на следующем тике.
package executor
