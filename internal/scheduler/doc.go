// Package scheduler содержит фоновые задачи по cron-расписанию.
//
// Sweeper периодически освобождает просроченные блокировки тикетов.
// Координатор перехватывает просроченную блокировку и сам при следующем
// запуске, а очистка нужна, чтобы состояние блокировок в API не висело
// LOCKED после падения процесса.
//
// Использование:
//
//	sweeper, err := scheduler.New(scheduler.Config{
//	    Locks:  lockService,
//	    Spec:   "*/5 * * * *",
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	sweeper.Start(ctx)
//	defer sweeper.Stop()
//
// Sweeper не реализует leader election: его запускает только лидер
// (см. repo.Leader).
package scheduler
