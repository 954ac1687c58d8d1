package provider

import (
	"strings"
	"testing"
)

func TestBuildBootstrapScript(t *testing.T) {
	script := BuildBootstrapScript(BootstrapParams{
		BuildRef: "git@example.com:team/app.git#v1.2.3",
		Env: map[string]string{
			"APP_ENV":  "production",
			"DB_PASS":  "s3cret'quote",
			"AAA_LAST": "1",
		},
		ExitCodeURL: "https://minio.local/conveyor/run/abc/exit_code?sig=x",
		LogURL:      "https://minio.local/conveyor/run/abc/console.log?sig=y",
	})

	if !strings.HasPrefix(script, "#!/bin/bash\n") {
		t.Errorf("script must start with shebang, got %q", script[:20])
	}

	for _, want := range []string{
		"export AAA_LAST='1'",
		"export APP_ENV='production'",
		`export DB_PASS='s3cret'\''quote'`,
		"conveyor-runner \"$BUILD_REF\"",
		"EXIT_CODE=$?",
		"run/abc/exit_code",
		"run/abc/console.log",
		"poweroff",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}

	// Exports идут в отсортированном порядке.
	if strings.Index(script, "AAA_LAST") > strings.Index(script, "APP_ENV") {
		t.Error("env exports are not sorted")
	}

	// Exit code репортится до poweroff.
	if strings.Index(script, "exit_code") > strings.Index(script, "poweroff") {
		t.Error("exit code must be reported before poweroff")
	}
}

func TestBuildBootstrapScriptWithoutLogURL(t *testing.T) {
	script := BuildBootstrapScript(BootstrapParams{
		BuildRef:    "ref",
		ExitCodeURL: "https://minio.local/conveyor/run/x/exit_code",
	})

	if strings.Contains(script, "console.log") {
		t.Error("script must not upload log when LogURL is empty")
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
