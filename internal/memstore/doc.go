// Package memstore — хранилища в памяти с той же семантикой атомарности,
// что и PostgreSQL-репозитории. Используются в тестах и для локального
// запуска оркестратора без базы данных.
package memstore
