// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим переподключением
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - parent.submitted    — принят новый родительский запрос
//   - phase.cancel        — запрошена отмена фазы
//   - execution.finished  — движок завершил выполнение
//   - phase.event         — изменение состояния фазы (для внешних подписчиков)
//
// Все сообщения только ускоряют тик для конкретного запроса.
// Источник истины — хранилище, опрос по таймеру работает и без брокера.
package mq
