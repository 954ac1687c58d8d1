// Package engine — оркестратор выполнения runs.
//
// Пул stateless-воркеров лизит задачи из durable queue и ведёт каждый
// run по машине состояний:
//
//	PENDING → DEPENDENCY_CHECK → SECRET_FETCH → PROVISIONING → RUNNING
//	RUNNING → SUCCEEDED | FAILED | CANCELLED | TIMED_OUT
//
// Каждый переход — conditional update по ожидаемому предыдущему
// статусу; очередь at-least-once, поэтому повторная доставка задачи
// для терминального run — no-op, а для живого — возобновление с
// сохранённого состояния без повторения побочных эффектов.
//
// Ожидание завершения контейнера неблокирующее: воркер делает
// ограниченное число poll-тиков, после чего возвращает задачу в
// очередь с задержкой. Run длиной в час не держит воркера час.
package engine
