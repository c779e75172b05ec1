package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("CONFIG_TEST_STRING", "  value ")
	if got := String("CONFIG_TEST_STRING", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
	if got := String("CONFIG_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestRequired(t *testing.T) {
	t.Setenv("CONFIG_TEST_REQUIRED", "x")
	if v, err := Required("CONFIG_TEST_REQUIRED"); err != nil || v != "x" {
		t.Errorf("expected x, got %q %v", v, err)
	}
	if _, err := Required("CONFIG_TEST_UNSET"); err == nil {
		t.Error("expected error for unset variable")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT", "12")
	if n, err := Int("CONFIG_TEST_INT", 3); err != nil || n != 12 {
		t.Errorf("expected 12, got %d %v", n, err)
	}
	if n, err := Int("CONFIG_TEST_UNSET", 3); err != nil || n != 3 {
		t.Errorf("expected fallback 3, got %d %v", n, err)
	}
	t.Setenv("CONFIG_TEST_INT", "twelve")
	if _, err := Int("CONFIG_TEST_INT", 3); err == nil {
		t.Error("expected parse error")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("CONFIG_TEST_DURATION", "45s")
	if d, err := Duration("CONFIG_TEST_DURATION", time.Second); err != nil || d != 45*time.Second {
		t.Errorf("expected 45s, got %v %v", d, err)
	}
	t.Setenv("CONFIG_TEST_DURATION", "soon")
	if _, err := Duration("CONFIG_TEST_DURATION", time.Second); err == nil {
		t.Error("expected parse error")
	}
}

func TestList(t *testing.T) {
	t.Setenv("CONFIG_TEST_LIST", "a:9092, ,b:9092,")
	got := List("CONFIG_TEST_LIST")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("unexpected list %v", got)
	}
}
