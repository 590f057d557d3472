package duration

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{`"5m"`, 5 * time.Minute},
		{`"1h30m"`, 90 * time.Minute},
		{`300`, 300 * time.Second},
		{`1.5`, 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			if err := json.Unmarshal([]byte(tt.input), &d); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if d.Duration() != tt.want {
				t.Errorf("expected %v, got %v", tt.want, d.Duration())
			}
		})
	}

	data, err := json.Marshal(Duration(10 * time.Second))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"10s"` {
		t.Errorf(`expected "10s", got %s`, data)
	}
}

func TestDuration_YAML(t *testing.T) {
	var cfg struct {
		Poll    Duration `yaml:"poll"`
		Timeout Duration `yaml:"timeout"`
	}
	if err := yaml.Unmarshal([]byte("poll: 10s\ntimeout: 300\n"), &cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if cfg.Poll.Duration() != 10*time.Second {
		t.Errorf("expected poll 10s, got %v", cfg.Poll)
	}
	if cfg.Timeout.Duration() != 5*time.Minute {
		t.Errorf("expected timeout 5m, got %v", cfg.Timeout)
	}
}

func TestDuration_Invalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected error for invalid duration")
	}
}
