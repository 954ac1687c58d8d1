// Package secrets — разрешение секретов перед запуском run.
//
// Все секреты снапшота разрешаются до инъекции первого из них: run с
// частично разрешёнными секретами не должен доходить до provisioning.
package secrets
