package provider

import (
	"fmt"
	"sort"
	"strings"
)

// BootstrapParams — всё, что нужно инстансу для выполнения одного run.
type BootstrapParams struct {
	// BuildRef — что собирать и запускать (git ref или image ref).
	BuildRef string

	// Env — переменные окружения, включая уже разрешённые секреты.
	Env map[string]string

	// ExitCodeURL — presigned PUT URL канала завершения.
	ExitCodeURL string

	// LogURL — presigned PUT URL для консольного лога (опционально).
	LogURL string
}

// BuildBootstrapScript собирает user-data скрипт.
//
// Скрипт выполняет run и репортит exit code через канал завершения,
// после чего гасит инстанс. PUT exit code — единственный сигнал
// успеха; если он не дошёл, reconciler добьёт инстанс по возрасту.
func BuildBootstrapScript(p BootstrapParams) string {
	var b strings.Builder

	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -u\n\n")

	// Стабильный порядок export-ов, чтобы скрипт был детерминированным.
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(p.Env[k]))
	}

	fmt.Fprintf(&b, "\nBUILD_REF=%s\n", shellQuote(p.BuildRef))
	b.WriteString("LOG=/var/log/conveyor-run.log\n\n")

	b.WriteString("conveyor-runner \"$BUILD_REF\" >\"$LOG\" 2>&1\n")
	b.WriteString("EXIT_CODE=$?\n\n")

	if p.LogURL != "" {
		fmt.Fprintf(&b, "curl -sf -X PUT --upload-file \"$LOG\" %s || true\n", shellQuote(p.LogURL))
	}

	// Exit code пишем с ретраями: это единственный путь run к терминалу
	// без участия reconciler-а.
	fmt.Fprintf(&b, "for i in 1 2 3 4 5; do\n")
	fmt.Fprintf(&b, "  curl -sf -X PUT -d \"$EXIT_CODE\" %s && break\n", shellQuote(p.ExitCodeURL))
	b.WriteString("  sleep $((i * 2))\n")
	b.WriteString("done\n\n")

	b.WriteString("poweroff\n")
	return b.String()
}

// shellQuote оборачивает значение в одинарные кавычки для sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
