// Package api содержит HTTP API приёма и просмотра многофазных запросов.
//
// Структура:
//   - handler.go        — Handler с DI (очередь, блокировки, журнал, publisher)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — Data Transfer Objects (request/response)
//   - parent_handler.go — обработчики для /parents и /locks
//
// API только принимает запросы и отмены. Запуском фаз занимается
// координатор: API лишь публикует событие, чтобы тик прошёл сразу.
package api
