// Package queue хранит многофазные запросы и выполняет переходы статусов фаз.
//
// Каждый переход — одна атомарная операция чтения-изменения-записи
// над всем запросом (Store.Update). Поэтому инварианты
// "не более одной фазы RUNNING" и "блокировка последующих фаз при ошибке"
// проверяются и применяются вместе.
//
// Хранилища:
//   - repo.ParentRepo — PostgreSQL (SELECT ... FOR UPDATE в транзакции)
//   - memstore.ParentStore — в памяти, для тестов и локального запуска
package queue
