package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("job", "price-check"))
	log.Warn("body failed", String("target", "56"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["job"] != "price-check" || m["target"] != "56" || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug reported enabled at warn level")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	log.Error("nothing happens")
}

func TestServiceApplyChangesLevelOfIssuedLoggers(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "info"}, WithOutput(&buf))
	log = log.With(Job("main-service"))

	log.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}

	svc.Apply(Config{Level: "debug"})
	if svc.Level() != LevelDebug {
		t.Fatalf("Level = %v, want debug", svc.Level())
	}
	log.Debug("kept", Target("56"), RunID("r-1"))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["job"] != "main-service" || m["target"] != "56" || m["run_id"] != "r-1" || m["message"] != "kept" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Level
	}{
		{"", LevelInfo},
		{"DEBUG", LevelDebug},
		{" warning ", LevelWarn},
		{"trace", LevelTrace},
		{"nonsense", LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestStackTraceSkipsRuntimeFrames(t *testing.T) {
	t.Parallel()
	st := StackTrace(1, 4)
	if !strings.Contains(st, "TestStackTraceSkipsRuntimeFrames") {
		t.Fatalf("stack misses caller:\n%s", st)
	}
	if strings.Contains(st, "runtime.") {
		t.Fatalf("stack contains runtime frames:\n%s", st)
	}
}

func raise() { panic("boom") }

func TestRecoveredPointsAtPanickingFunction(t *testing.T) {
	t.Parallel()
	var pe *PanicError
	func() {
		defer func() { pe = Recovered(recover()) }()
		raise()
	}()
	if pe.Error() != "panic: boom" {
		t.Fatalf("Error() = %q", pe.Error())
	}
	if first, _, _ := strings.Cut(pe.Stack, "\n"); !strings.Contains(first, "logx.raise") {
		t.Fatalf("stack should start at the panicking function:\n%s", pe.Stack)
	}
}
