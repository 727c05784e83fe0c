package config

import "testing"

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != 1316 {
		t.Fatalf("Port = %d, want default 1316", cfg.Port)
	}
	if cfg.TriggerMode != ETListenETConn {
		t.Fatalf("TriggerMode = %v, want default ET/ET", cfg.TriggerMode)
	}
	if !cfg.TriggerMode.ListenEdgeTriggered() || !cfg.TriggerMode.ConnEdgeTriggered() {
		t.Fatal("ET/ET mode should be edge-triggered on both listen and conn")
	}
}

func TestParseRejectsOutOfRangePort(t *testing.T) {
	if _, err := Parse([]string{"-port=80"}); err == nil {
		t.Fatal("expected an error for a privileged port")
	}
}

func TestParseRejectsBadTriggerMode(t *testing.T) {
	if _, err := Parse([]string{"-trigger-mode=7"}); err == nil {
		t.Fatal("expected an error for an out-of-range trigger mode")
	}
}

func TestTriggerModeCombinations(t *testing.T) {
	cases := []struct {
		mode     TriggerMode
		listenET bool
		connET   bool
	}{
		{LTListenLTConn, false, false},
		{LTListenETConn, false, true},
		{ETListenLTConn, true, false},
		{ETListenETConn, true, true},
	}
	for _, tc := range cases {
		if got := tc.mode.ListenEdgeTriggered(); got != tc.listenET {
			t.Errorf("mode %d ListenEdgeTriggered() = %v, want %v", tc.mode, got, tc.listenET)
		}
		if got := tc.mode.ConnEdgeTriggered(); got != tc.connET {
			t.Errorf("mode %d ConnEdgeTriggered() = %v, want %v", tc.mode, got, tc.connET)
		}
	}
}
