package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskKind — вид задачи в durable queue.
type TaskKind string

const (
	// TaskKindExecute — выполнить run (payload: ExecutePayload).
	TaskKindExecute TaskKind = "execute"

	// TaskKindCleanupSweep — периодический проход Reconciler'а
	// (payload отсутствует).
	TaskKindCleanupSweep TaskKind = "cleanup-sweep"

	// TaskKindNotify — доставить уведомление (payload: NotifyPayload).
	TaskKindNotify TaskKind = "notify"
)

// QueueTaskStatus — статус задачи в очереди.
type QueueTaskStatus string

const (
	// QueueTaskAvailable — задача доступна для lease.
	QueueTaskAvailable QueueTaskStatus = "AVAILABLE"

	// QueueTaskLeased — задача захвачена воркером до lease_expires_at.
	// После истечения lease задача снова видна для lease (at-least-once).
	QueueTaskLeased QueueTaskStatus = "LEASED"

	// QueueTaskCompleted — задача обработана.
	QueueTaskCompleted QueueTaskStatus = "COMPLETED"

	// QueueTaskDiscarded — задача отброшена (некорректный payload).
	QueueTaskDiscarded QueueTaskStatus = "DISCARDED"
)

// QueueTask — единица работы в durable queue.
//
// Доставка at-least-once: воркер, упавший до Complete, теряет lease,
// и задача возвращается в AVAILABLE. Обработчики обязаны быть
// идемпотентными относительно повторной доставки — для execute это
// обеспечивается проверкой текущего статуса run.
type QueueTask struct {
	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"id"`

	// Kind — вид задачи.
	Kind TaskKind `json:"kind"`

	// Payload — полезная нагрузка (JSON, формат зависит от Kind).
	Payload json.RawMessage `json:"payload,omitempty"`

	// Status — текущий статус.
	Status QueueTaskStatus `json:"status"`

	// Attempt — номер попытки доставки (увеличивается при каждом lease).
	Attempt int `json:"attempt"`

	// LeaseOwner — идентификатор воркера, держащего lease.
	LeaseOwner string `json:"lease_owner,omitempty"`

	// LeaseExpiresAt — момент истечения lease.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// AvailableAt — раньше этого момента задача не выдаётся
	// (используется Release с задержкой и периодическими задачами).
	AvailableAt time.Time `json:"available_at"`

	// PeriodicIntervalSec — для периодических задач: интервал, через
	// который задача автоматически вернётся в AVAILABLE после Complete.
	// 0 — обычная одноразовая задача.
	PeriodicIntervalSec int `json:"periodic_interval_sec,omitempty"`

	// CreatedAt — время постановки в очередь.
	CreatedAt time.Time `json:"created_at"`
}

// IsPeriodic возвращает true для периодических задач.
func (t *QueueTask) IsPeriodic() bool {
	return t.PeriodicIntervalSec > 0
}

// ExecutePayload — payload задачи execute.
type ExecutePayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// NotifyPayload — payload задачи notify.
type NotifyPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	Status  RunStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// NewExecuteTask создаёт задачу execute для run.
func NewExecuteTask(runID uuid.UUID) (*QueueTask, error) {
	return newTask(TaskKindExecute, ExecutePayload{RunID: runID})
}

// NewNotifyTask создаёт задачу notify для завершённого run.
func NewNotifyTask(runID uuid.UUID, status RunStatus, message string) (*QueueTask, error) {
	return newTask(TaskKindNotify, NotifyPayload{RunID: runID, Status: status, Message: message})
}

func newTask(kind TaskKind, payload any) (*QueueTask, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &QueueTask{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     raw,
		Status:      QueueTaskAvailable,
		AvailableAt: now,
		CreatedAt:   now,
	}, nil
}

// ParseTaskPayload парсит payload задачи в указанный тип.
func ParseTaskPayload[T any](task *QueueTask) (T, error) {
	var result T
	if err := json.Unmarshal(task.Payload, &result); err != nil {
		return result, err
	}
	return result, nil
}
