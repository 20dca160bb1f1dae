package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Parlor") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunNoCommandPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: parlor") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-bogus", "serve"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v", err)
	}
}

func TestRunSendRequiresPresetAndText(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"send"})
	if err == nil || !strings.Contains(err.Error(), "usage: parlor send") {
		t.Errorf("err = %v", err)
	}
	err = run(context.Background(), &out, &errOut, []string{"send", "-preset", "x"})
	if err == nil || !strings.Contains(err.Error(), "usage: parlor send") {
		t.Errorf("err = %v", err)
	}
}

func TestRunExplicitConfigMustExist(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut,
		[]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "verify"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestRunModelsUnknownPreset(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "parlor.yaml")
	cfg := "presets_file: " + filepath.Join(dir, "presets.yaml") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut,
		[]string{"-config", cfgPath, "models", "-preset", "nope"})
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("err = %v", err)
	}
}
