package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "nyat.toml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadBatchMergesDefaults(t *testing.T) {
	p := writeBatch(t, `
log-level = "debug"

[default]
stun-host = "stun.example.com"
stun-port = 3478
keepalive = 10

[task.game]
mode = "udp"
bind = "4070"
count = 3

[task.web]
mode = "tcp"
bind = "192.168.1.10:8080"
remote-host = "example.com"
remote-port = 80
keepalive = 45
`)
	cfg, err := LoadBatch(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level %q", cfg.LogLevel)
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("got %d tasks", len(cfg.Tasks))
	}

	game := cfg.Tasks["game"]
	if game.Mode != ModeUDP {
		t.Fatalf("game mode %q", game.Mode)
	}
	if game.Stun.Host() != "stun.example.com" {
		t.Fatalf("game stun %q, defaults not merged", game.Stun.Host())
	}
	if game.Keepalive != 10*time.Second {
		t.Fatalf("game keepalive %s, want default 10s", game.Keepalive)
	}
	if game.Count != 3 {
		t.Fatalf("game count %d", game.Count)
	}
	if got := game.Bind.String(); got != "0.0.0.0:4070" {
		t.Fatalf("game bind %s", got)
	}

	web := cfg.Tasks["web"]
	if web.Mode != ModeTCP {
		t.Fatalf("web mode %q", web.Mode)
	}
	if web.Remote.Host() != "example.com" {
		t.Fatalf("web remote %q", web.Remote.Host())
	}
	if web.Keepalive != 45*time.Second {
		t.Fatalf("web keepalive %s, task override lost", web.Keepalive)
	}
}

func TestLoadBatchRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no tasks": `
[default]
stun-host = "stun.example.com"
stun-port = 3478
`,
		"partial stun pair": `
[task.a]
mode = "udp"
bind = "0"
stun-host = "stun.example.com"
`,
		"missing stun": `
[task.a]
mode = "udp"
bind = "0"
`,
		"remote in udp mode": `
[task.a]
mode = "udp"
bind = "0"
stun-host = "stun.example.com"
stun-port = 3478
remote-host = "example.com"
remote-port = 80
`,
		"count in tcp mode": `
[task.a]
mode = "tcp"
bind = "0"
stun-host = "stun.example.com"
stun-port = 3478
remote-host = "example.com"
remote-port = 80
count = 3
`,
		"tcp without remote": `
[task.a]
mode = "tcp"
bind = "0"
stun-host = "stun.example.com"
stun-port = 3478
`,
		"bad mode": `
[task.a]
mode = "sctp"
bind = "0"
stun-host = "stun.example.com"
stun-port = 3478
`,
		"bad bind": `
[task.a]
mode = "udp"
bind = "nope"
stun-host = "stun.example.com"
stun-port = 3478
`,
	}
	for name, content := range cases {
		if _, err := LoadBatch(writeBatch(t, content)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestLoadBatchTaskErrorNamesTask(t *testing.T) {
	p := writeBatch(t, `
[task.broken]
mode = "udp"
bind = "0"
stun-port = 3478
`)
	_, err := LoadBatch(p)
	if err == nil {
		t.Fatal("accepted")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error does not name the task: %v", err)
	}
}
