// Package channel — канал завершения поверх объектного хранилища.
//
// Инстанс репортит результат единственным способом: PUT exit code по
// ключу run/{run_id}/exit_code через presigned URL, выданный при
// запуске. Engine опрашивает ключ; отсутствие объекта означает
// «ещё выполняется». Ключ write-once: инстанс пишет его ровно один
// раз перед poweroff, перезапись не предусмотрена.
//
// Здесь же живёт LogStore — хранилище консольных логов. Логи
// fire-and-forget и никогда не участвуют в переходах состояний.
package channel
