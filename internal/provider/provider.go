package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ключи тегов, которыми помечаются все инстансы под управлением Conveyor.
const (
	TagManaged = "conveyor:managed"
	TagRunID   = "conveyor:run-id"

	TagManagedValue = "true"
)

// LaunchSpec — параметры запуска инстанса.
type LaunchSpec struct {
	// RunID — run, под который запускается инстанс.
	RunID uuid.UUID

	// MemoryMB и CPUs — resource hints для подбора тира.
	MemoryMB int
	CPUs     int

	// InstanceType — явный override, минует таблицу тиров.
	InstanceType string

	// UserData — bootstrap-скрипт (plain text, кодируется провайдером).
	UserData string
}

// Resource — инстанс, видимый провайдеру.
type Resource struct {
	ID         string
	Tags       map[string]string
	State      string
	LaunchedAt time.Time
}

// RunID извлекает run id из тегов ресурса.
// Возвращает uuid.Nil, если тег отсутствует или некорректен.
func (r Resource) RunID() uuid.UUID {
	raw, ok := r.Tags[TagRunID]
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Age возвращает возраст ресурса на момент now.
func (r Resource) Age(now time.Time) time.Duration {
	return now.Sub(r.LaunchedAt)
}

// Provider — абстракция compute-провайдера.
//
// List используется только reconciler-ом и engine-ом при повторной
// доставке (поиск потерянного инстанса по run-id).
type Provider interface {
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	Terminate(ctx context.Context, instanceID string) error
	List(ctx context.Context, tags map[string]string) ([]Resource, error)
}
