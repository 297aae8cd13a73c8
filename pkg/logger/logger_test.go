package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	log := New(cfg)
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	originalWD, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	temp := t.TempDir()
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	log := New(LoggingConfig{Level: "info", Format: "text", Output: "file", FilePrefix: "test"})
	log.Info("hello")

	path := filepath.Join("logs", "test.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log file to contain data")
	}
}

func TestNewDefaultStampsComponentField(t *testing.T) {
	log := NewDefault("ingester")

	entry := log.WithField("stage", "fetch")
	if entry.Data["stage"] != "fetch" {
		t.Fatalf("expected stage field to survive WithField")
	}

	hooks := log.Hooks[log.GetLevel()]
	if len(hooks) == 0 {
		t.Fatalf("expected component hook to be registered")
	}

	fired := logrus.NewEntry(log.Logger)
	for _, h := range hooks {
		if err := h.Fire(fired); err != nil {
			t.Fatalf("hook.Fire() error = %v", err)
		}
	}
	if fired.Data["component"] != "ingester" {
		t.Fatalf("expected component=ingester, got %v", fired.Data["component"])
	}
}

func TestNewDefaultWithEmptyComponentSkipsHook(t *testing.T) {
	log := NewDefault("")
	if len(log.Hooks[log.GetLevel()]) != 0 {
		t.Fatalf("expected no hooks registered for empty component")
	}
}
