// Package preflight — проверки окружения перед запуском фазы.
//
// Gate выполняет все зарегистрированные проверки по порядку, каждую с
// таймаутом, и решает, можно ли запускать выполнение. Запуск запрещён,
// если хотя бы одна блокирующая проверка вернула FAIL. Рекомендательные
// (неблокирующие) проверки только попадают в отчёт и лог.
//
// Встроенные проверки (checks.go):
//   - WorkspaceClean    — рабочая копия git без незакоммиченных изменений
//   - DatabaseReachable — база данных отвечает на ping
//   - BrokerConnected   — соединение с RabbitMQ установлено
//   - RateLimit         — в трекере осталось достаточно запросов
//   - EngineHealthy     — движок выполнения отвечает
package preflight
