// Package reconciler — страховочный контур против осиротевшего compute.
//
// Машина состояний engine фиксирует переход в store до следующего
// шага, но между успешным launch и коммитом RUNNING есть окно: крах
// воркера в этом окне оставляет живой тарифицируемый инстанс без
// консистентного run. Reconciler периодически сверяет инстансы с
// тегом conveyor:managed против run state store и гасит расхождения.
//
// Это страховка, а не основной путь завершения: запас 2x от таймаута
// run выбран сознательно, чтобы не гоняться с легитимно медленным
// контейнером.
package reconciler
