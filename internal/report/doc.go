// Package report рендерит комментарии, которые координатор оставляет в трекере:
// отчёт об ошибке фазы, отчёт при закрытии артефакта, сообщение об успехе,
// диагностику pre-flight и уведомления по родительскому запросу.
//
// Каждое сообщение содержит скрытый HTML-маркер. По маркеру проверяется,
// что такой комментарий уже оставлен, и повторный тик не дублирует его.
package report
