package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.SIPPort != defaultSIPPort {
		t.Errorf("SIPPort = %d, want %d", cfg.SIPPort, defaultSIPPort)
	}
	if cfg.RTPPortMin != defaultRTPPortMin || cfg.RTPPortMax != defaultRTPPortMax {
		t.Errorf("RTP range = %d-%d, want %d-%d", cfg.RTPPortMin, cfg.RTPPortMax, defaultRTPPortMin, defaultRTPPortMax)
	}
	if cfg.VADThreshold != defaultVADThreshold {
		t.Errorf("VADThreshold = %g, want %g", cfg.VADThreshold, defaultVADThreshold)
	}
	if cfg.SystemSpeed != defaultSystemSpeed {
		t.Errorf("SystemSpeed = %d, want %d", cfg.SystemSpeed, defaultSystemSpeed)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	cfg, err := load([]string{
		"-sip-port", "5080",
		"-chunk-max-ms", "8000",
		"-system-speed", "5",
		"-log-format", "json",
	})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.SIPPort != 5080 {
		t.Errorf("SIPPort = %d, want 5080", cfg.SIPPort)
	}
	if cfg.ChunkMaxMs != 8000 {
		t.Errorf("ChunkMaxMs = %d, want 8000", cfg.ChunkMaxMs)
	}
	if cfg.SystemSpeed != 5 {
		t.Errorf("SystemSpeed = %d, want 5", cfg.SystemSpeed)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VOICEBRIDGE_SIP_PORT", "5070")
	t.Setenv("VOICEBRIDGE_VAD_THRESHOLD", "0.02")
	t.Setenv("VOICEBRIDGE_STT_ENDPOINT", "http://stt.local:9000")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.SIPPort != 5070 {
		t.Errorf("SIPPort = %d, want 5070", cfg.SIPPort)
	}
	if cfg.VADThreshold != 0.02 {
		t.Errorf("VADThreshold = %g, want 0.02", cfg.VADThreshold)
	}
	if cfg.STTEndpoint != "http://stt.local:9000" {
		t.Errorf("STTEndpoint = %q, want %q", cfg.STTEndpoint, "http://stt.local:9000")
	}
}

func TestFlagBeatsEnv(t *testing.T) {
	t.Setenv("VOICEBRIDGE_SIP_PORT", "5070")

	cfg, err := load([]string{"-sip-port", "5090"})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.SIPPort != 5090 {
		t.Errorf("SIPPort = %d, want 5090 (flag should beat env)", cfg.SIPPort)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"odd rtp port min", []string{"-rtp-port-min", "10001"}},
		{"inverted rtp range", []string{"-rtp-port-min", "20000", "-rtp-port-max", "10000"}},
		{"vad threshold too high", []string{"-vad-threshold", "1.5"}},
		{"chunk max below min", []string{"-chunk-min-ms", "2000", "-chunk-max-ms", "1000"}},
		{"speed out of range", []string{"-system-speed", "9"}},
		{"bad log level", []string{"-log-level", "verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(tt.args); err == nil {
				t.Errorf("load(%v) succeeded, want error", tt.args)
			}
		})
	}
}
