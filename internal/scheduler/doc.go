// Package scheduler — источники автоматических run-интентов.
//
// Два контура на общем тике:
//   - расписания: schedules с истекшим next_due_at превращаются в
//     run-интенты с ключом идемпотентности "{schedule_id}_{due_unix}";
//   - dependency watcher: runs, завершившиеся SUCCEEDED с прошлого
//     тика, перезапускают pipelines, перечисляющие их pipeline в
//     depends_on (ключ "{dep_run_id}_{pipeline_id}").
//
// Оба контура идемпотентны по ключу, поэтому повторный тик после
// рестарта не создаёт дубликатов.
//
// Scheduler не реализует leader election: один активный экземпляр
// обеспечивается pg_try_advisory_lock в main.
package scheduler
