package provider

import "errors"

// Ошибки provisioning.
var (
	// ErrProvision — любая ошибка launch/terminate на стороне провайдера.
	ErrProvision = errors.New("provision failed")
)
