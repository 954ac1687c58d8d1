// Package telemetry — логирование и метрики.
package telemetry
