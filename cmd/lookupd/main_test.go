package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		env, err := loadDotEnv(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if len(env) != 0 {
			t.Errorf("expected empty map, got %v", env)
		}
	})

	tests := []struct {
		name    string
		content string
		want    map[string]string
		wantErr bool
	}{
		{
			name:    "basic",
			content: "HTTP=:4000\n# comment\n\nLOG_LEVEL = debug\nnot a pair\n",
			want:    map[string]string{"HTTP": ":4000", "LOG_LEVEL": "debug"},
		},
		{
			name:    "double quoted",
			content: "GEO_DB=\"/var/lib/geo db.mmdb\"\n",
			want:    map[string]string{"GEO_DB": "/var/lib/geo db.mmdb"},
		},
		{
			name:    "value with equal sign",
			content: "DEV=a=b\n",
			want:    map[string]string{"DEV": "a=b"},
		},
		{
			name:    "CRLF",
			content: "HTTP=:4000\r\nDEV=true\r\n",
			want:    map[string]string{"HTTP": ":4000", "DEV": "true"},
		},
		{name: "single quoted", content: "DEV='true'\n", wantErr: true},
		{name: "unbalanced single quote", content: "DEV='true\n", wantErr: true},
		{name: "bad double quote", content: "DEV=\"true\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			env, err := loadDotEnv(dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadDotEnv() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(env) != len(tt.want) {
				t.Errorf("got %v, want %v", env, tt.want)
			}
			for k, v := range tt.want {
				if env[k] != v {
					t.Errorf("env[%q] = %q, want %q", k, env[k], v)
				}
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
