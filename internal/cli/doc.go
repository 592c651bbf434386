// Package cli реализует инструмент командной строки Phasegate.
//
// CLI работает через HTTP API и не импортирует внутренние пакеты системы.
//
// # Client
//
// HTTP-клиент для Phasegate API: запросы, разбор ответов
// (DataResponse, ListResponse, ErrorResponse) и ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	parents, err := client.ListParents(0)
//
// # Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
// phasegate parent list --json | jq .
//
// # Commands
//
//   - parent: submit -f plan.yaml, list, show, executions
//   - phase: cancel
//   - lock: show
//
// Каждая группа создаётся фабрикой (NewParentCmd и т.д.), принимающей
// clientFn и outputFn: Client и Output создаются лениво, после разбора
// PersistentFlags.
package cli
