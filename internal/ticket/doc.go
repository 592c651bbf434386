// Package ticket — работа с трекером задач (GitHub Issues и Pull Requests).
//
// Тикет — issue, адресуется строкой "owner/repo#N". Артефакт выполнения —
// pull request, ветка которого называется BranchPrefix + executionID.
//
// Все вызовы API проходят через клиентский rate limiter и повторяются
// с экспоненциальной задержкой при 429/5xx (retry.go).
package ticket
