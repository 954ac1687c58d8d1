// Package provider — слой provisioning вычислительных ресурсов.
//
// Каждый запущенный инстанс получает теги conveyor:managed=true и
// conveyor:run-id=<id> — единственная связь между compute-ресурсом и
// run в базе. Reconciler опирается только на эти теги.
//
// Terminate идемпотентен: повторное завершение уже завершённого
// инстанса не ошибка.
package provider
