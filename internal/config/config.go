package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the voicebridge server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir    string
	SIPPort    int
	HTTPPort   int // status/metrics listener
	RTPPortMin int
	RTPPortMax int
	// RTPFallbackPort is used when no port in the range can be bound.
	RTPFallbackPort int
	ExternalIP      string // advertised in SDP and Contact (auto-detected if empty)
	LogLevel        string
	LogFormat       string // "text" or "json"

	// STTEndpoint and TTSEndpoint are the HTTP base URLs of the external
	// transcription and synthesis engines.
	STTEndpoint string
	TTSEndpoint string

	// VADThreshold is the RMS energy above which a window counts as speech.
	VADThreshold float64
	// ChunkMinMs, ChunkSilenceMs and ChunkMaxMs control utterance chunking.
	ChunkMinMs     int
	ChunkSilenceMs int
	ChunkMaxMs     int
	// SystemSpeed trades latency against recognition accuracy for the
	// word-boundary chunker (1 = slow/accurate ... 5 = fast).
	SystemSpeed int
	// RingDelayMs is the pause between 180 Ringing and 200 OK on INVITE.
	RingDelayMs int
}

// defaults
const (
	defaultDataDir         = "./data"
	defaultSIPPort         = 5060
	defaultHTTPPort        = 8080
	defaultRTPPortMin      = 10000
	defaultRTPPortMax      = 20000
	defaultRTPFallbackPort = 10000
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultVADThreshold    = 0.01
	defaultChunkMinMs      = 1000
	defaultChunkSilenceMs  = 500
	defaultChunkMaxMs      = 10000
	defaultSystemSpeed     = 3
	defaultRingDelayMs     = 1000
)

// envPrefix is the prefix for all voicebridge environment variables.
const envPrefix = "VOICEBRIDGE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voicebridge", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the session database")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "SIP UDP listen port")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "status/metrics HTTP listen port")
	fs.IntVar(&cfg.RTPPortMin, "rtp-port-min", defaultRTPPortMin, "minimum UDP port for RTP media")
	fs.IntVar(&cfg.RTPPortMax, "rtp-port-max", defaultRTPPortMax, "maximum UDP port for RTP media")
	fs.IntVar(&cfg.RTPFallbackPort, "rtp-fallback-port", defaultRTPFallbackPort, "fixed RTP port used when the range is exhausted")
	fs.StringVar(&cfg.ExternalIP, "external-ip", "", "public IP address advertised in SDP (auto-detected if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.STTEndpoint, "stt-endpoint", "", "HTTP base URL of the transcription engine")
	fs.StringVar(&cfg.TTSEndpoint, "tts-endpoint", "", "HTTP base URL of the speech synthesis engine")
	fs.Float64Var(&cfg.VADThreshold, "vad-threshold", defaultVADThreshold, "RMS energy threshold for voice activity")
	fs.IntVar(&cfg.ChunkMinMs, "chunk-min-ms", defaultChunkMinMs, "minimum utterance chunk duration in milliseconds")
	fs.IntVar(&cfg.ChunkSilenceMs, "chunk-silence-ms", defaultChunkSilenceMs, "silence gap that completes an utterance, in milliseconds")
	fs.IntVar(&cfg.ChunkMaxMs, "chunk-max-ms", defaultChunkMaxMs, "maximum utterance chunk duration in milliseconds")
	fs.IntVar(&cfg.SystemSpeed, "system-speed", defaultSystemSpeed, "word chunker speed policy, 1 (slow) to 5 (fast)")
	fs.IntVar(&cfg.RingDelayMs, "ring-delay-ms", defaultRingDelayMs, "pause between 180 Ringing and 200 OK, in milliseconds")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command
	// line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":          envPrefix + "DATA_DIR",
		"sip-port":          envPrefix + "SIP_PORT",
		"http-port":         envPrefix + "HTTP_PORT",
		"rtp-port-min":      envPrefix + "RTP_PORT_MIN",
		"rtp-port-max":      envPrefix + "RTP_PORT_MAX",
		"rtp-fallback-port": envPrefix + "RTP_FALLBACK_PORT",
		"external-ip":       envPrefix + "EXTERNAL_IP",
		"log-level":         envPrefix + "LOG_LEVEL",
		"log-format":        envPrefix + "LOG_FORMAT",
		"stt-endpoint":      envPrefix + "STT_ENDPOINT",
		"tts-endpoint":      envPrefix + "TTS_ENDPOINT",
		"vad-threshold":     envPrefix + "VAD_THRESHOLD",
		"chunk-min-ms":      envPrefix + "CHUNK_MIN_MS",
		"chunk-silence-ms":  envPrefix + "CHUNK_SILENCE_MS",
		"chunk-max-ms":      envPrefix + "CHUNK_MAX_MS",
		"system-speed":      envPrefix + "SYSTEM_SPEED",
		"ring-delay-ms":     envPrefix + "RING_DELAY_MS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "sip-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPPort = v
			}
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "rtp-port-min":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPPortMin = v
			}
		case "rtp-port-max":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPPortMax = v
			}
		case "rtp-fallback-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPFallbackPort = v
			}
		case "external-ip":
			cfg.ExternalIP = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "stt-endpoint":
			cfg.STTEndpoint = val
		case "tts-endpoint":
			cfg.TTSEndpoint = val
		case "vad-threshold":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.VADThreshold = v
			}
		case "chunk-min-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ChunkMinMs = v
			}
		case "chunk-silence-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ChunkSilenceMs = v
			}
		case "chunk-max-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ChunkMaxMs = v
			}
		case "system-speed":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SystemSpeed = v
			}
		case "ring-delay-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RingDelayMs = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.RTPPortMin < 1024 || c.RTPPortMin > 65534 {
		return fmt.Errorf("rtp-port-min must be between 1024 and 65534, got %d", c.RTPPortMin)
	}
	if c.RTPPortMax < c.RTPPortMin+2 || c.RTPPortMax > 65535 {
		return fmt.Errorf("rtp-port-max must be between rtp-port-min+2 and 65535, got %d", c.RTPPortMax)
	}
	// RTP uses even ports by convention.
	if c.RTPPortMin%2 != 0 {
		return fmt.Errorf("rtp-port-min must be even, got %d", c.RTPPortMin)
	}
	if c.RTPFallbackPort < 1024 || c.RTPFallbackPort > 65534 {
		return fmt.Errorf("rtp-fallback-port must be between 1024 and 65534, got %d", c.RTPFallbackPort)
	}
	if c.VADThreshold <= 0 || c.VADThreshold >= 1 {
		return fmt.Errorf("vad-threshold must be in (0, 1), got %g", c.VADThreshold)
	}
	if c.ChunkMinMs <= 0 || c.ChunkSilenceMs <= 0 {
		return fmt.Errorf("chunk-min-ms and chunk-silence-ms must be positive")
	}
	if c.ChunkMaxMs < c.ChunkMinMs {
		return fmt.Errorf("chunk-max-ms (%d) must be >= chunk-min-ms (%d)", c.ChunkMaxMs, c.ChunkMinMs)
	}
	if c.SystemSpeed < 1 || c.SystemSpeed > 5 {
		return fmt.Errorf("system-speed must be between 1 and 5, got %d", c.SystemSpeed)
	}
	if c.RingDelayMs < 0 {
		return fmt.Errorf("ring-delay-ms must not be negative, got %d", c.RingDelayMs)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// ChunkMin returns the minimum utterance duration as a time.Duration.
func (c *Config) ChunkMin() time.Duration { return time.Duration(c.ChunkMinMs) * time.Millisecond }

// ChunkSilence returns the closing silence gap as a time.Duration.
func (c *Config) ChunkSilence() time.Duration {
	return time.Duration(c.ChunkSilenceMs) * time.Millisecond
}

// ChunkMax returns the maximum utterance duration as a time.Duration.
func (c *Config) ChunkMax() time.Duration { return time.Duration(c.ChunkMaxMs) * time.Millisecond }

// RingDelay returns the ringing pause as a time.Duration.
func (c *Config) RingDelay() time.Duration { return time.Duration(c.RingDelayMs) * time.Millisecond }

// SIPHost returns the hostname to use for the SIP User-Agent.
func (c *Config) SIPHost() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

// MediaIP returns the IP address to advertise in SDP. If ExternalIP is
// configured, it is returned directly. Otherwise the function attempts to
// detect the machine's primary non-loopback IPv4 address. Falls back to
// "127.0.0.1" if detection fails.
func (c *Config) MediaIP() string {
	if c.ExternalIP != "" {
		return c.ExternalIP
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
