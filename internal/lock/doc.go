// Package lock реализует блокировку тикетов: не более одного активного
// выполнения на тикет в любой момент времени.
//
// Блокировка выдаётся с TTL. Просроченная блокировка не освобождается
// в фоне, а перехватывается следующим TryAcquire (ленивое истечение).
// Освободить блокировку может только её владелец; вызов Release от
// чужого или устаревшего владельца ничего не меняет и только логируется.
package lock
