package config

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("MATHRUSH_TEST_STR", "redis")

	if got := GetEnv("MATHRUSH_TEST_STR", "memory"); got != "redis" {
		t.Errorf("Expected redis, got %s", got)
	}
	if got := GetEnv("MATHRUSH_TEST_MISSING", "memory"); got != "memory" {
		t.Errorf("Expected default memory, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("MATHRUSH_TEST_INT", " 8 ")
	t.Setenv("MATHRUSH_TEST_BAD_INT", "eight")

	if got := GetEnvInt("MATHRUSH_TEST_INT", 4); got != 8 {
		t.Errorf("Expected 8, got %d", got)
	}
	if got := GetEnvInt("MATHRUSH_TEST_BAD_INT", 4); got != 4 {
		t.Errorf("Expected default 4, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("MATHRUSH_TEST_DUR", "90s")

	if got := GetEnvDuration("MATHRUSH_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("Expected 90s, got %s", got)
	}
	if got := GetEnvDuration("MATHRUSH_TEST_MISSING", time.Minute); got != time.Minute {
		t.Errorf("Expected default 1m, got %s", got)
	}
}
