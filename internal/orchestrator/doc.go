// Package orchestrator координирует последовательное выполнение фаз.
//
// Orchestrator отвечает за:
//   - периодический тик по всем активным запросам (основной механизм);
//   - реакцию на события RabbitMQ (ускорение тика для одного запроса);
//   - запуск READY фаз через pre-flight и блокировку тикета;
//   - опрос движка и передачу результата в SuccessFinalizer или FailureCleanup.
//
// Только SuccessFinalizer переводит следующую фазу в READY в штатном режиме.
// Тик лишь восстанавливает цепочку, если финализатор был прерван между
// MarkCompleted и MarkReady, и активирует первую фазу нового запроса.
package orchestrator
