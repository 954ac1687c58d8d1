package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline — зарегистрированный pipeline.
//
// Определения pipeline живут в version control и валидируются внешним
// definition-sync сервисом; сюда попадают уже готовые snapshots.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя (например, "nightly-etl", "orders-export").
	Name string `json:"name"`

	// IsActive — неактивные pipelines не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineSnapshot — неизменяемая конфигурация pipeline, с которой
// запускается конкретный run.
//
// Snapshot производится definition-sync сервисом и для engine является
// read-only входом, ключ — pipeline id + version.
type PipelineSnapshot struct {
	// PipelineID — ссылка на pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — номер версии snapshot (автоинкремент).
	Version int `json:"version"`

	// BuildRef — ссылка на сборку контейнера (репозиторий + ревизия
	// или готовый image ref), которую bootstrap-скрипт выполняет.
	BuildRef string `json:"build_ref"`

	// Hints — пожелания по ресурсам compute-инстанса.
	Hints ResourceHints `json:"resource_hints"`

	// Env — нечувствительные переменные окружения контейнера.
	Env map[string]string `json:"env,omitempty"`

	// SecretRefs — ссылки на секреты, резолвятся на шаге SECRET_FETCH.
	// Значения никогда не сохраняются в БД.
	SecretRefs []SecretRef `json:"secret_refs,omitempty"`

	// DependsOn — pipelines, последний run которых должен быть
	// SUCCEEDED на момент запуска. Только линейные цепочки.
	DependsOn []uuid.UUID `json:"depends_on,omitempty"`

	// TimeoutSec — максимальное время выполнения контейнера.
	TimeoutSec int `json:"timeout_sec"`

	// NotifyOnFailure — отправлять ли уведомление при failure-вариантах
	// терминального статуса.
	NotifyOnFailure bool `json:"notify_on_failure,omitempty"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// Timeout возвращает таймаут как Duration.
// При отсутствии значения — defaultTimeout.
func (s *PipelineSnapshot) Timeout(def time.Duration) time.Duration {
	if s.TimeoutSec <= 0 {
		return def
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// ResourceHints — пожелания по ресурсам для подбора instance tier.
type ResourceHints struct {
	// MemoryMB — требуемая память в мегабайтах.
	MemoryMB int `json:"memory_mb,omitempty"`

	// CPUs — требуемое количество vCPU.
	CPUs int `json:"cpus,omitempty"`

	// InstanceType — явный override типа инстанса, минует tier-таблицу.
	InstanceType string `json:"instance_type,omitempty"`
}

// SecretRef — ссылка на секрет во внешнем хранилище.
type SecretRef struct {
	// Env — имя переменной окружения, в которую инжектится значение.
	Env string `json:"env"`

	// Ref — идентификатор секрета у secrets-провайдера.
	Ref string `json:"ref"`
}
