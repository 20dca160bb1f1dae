package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parlor.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "parlor.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "parlor.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parlor.yaml")
	os.WriteFile(path, []byte("providers:\n  - id: openai\n    base_url: https://api.openai.com/v1\n    api_key: ${PARLOR_TEST_KEY}\n"), 0600)
	os.Setenv("PARLOR_TEST_KEY", "secret123")
	defer os.Unsetenv("PARLOR_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	p, ok := cfg.Provider("openai")
	if !ok {
		t.Fatal("expected openai provider entry")
	}
	if p.APIKey != "secret123" {
		t.Errorf("expected env-expanded api key, got %q", p.APIKey)
	}
}

func TestProviderConfig_StreamingDefault(t *testing.T) {
	p := ProviderConfig{ID: "openai"}
	if !p.StreamingEnabled() {
		t.Error("streaming should default to enabled")
	}

	off := false
	p.Streaming = &off
	if p.StreamingEnabled() {
		t.Error("explicit streaming: false should disable streaming")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"trace", false},
		{"debug", false},
		{"", false},
		{"INFO", false},
		{"warning", false},
		{"bogus", true},
	}
	for _, tc := range cases {
		_, err := ParseLogLevel(tc.in)
		if tc.wantErr && err == nil {
			t.Errorf("ParseLogLevel(%q): expected error", tc.in)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tc.in, err)
		}
	}
}
