// Package config loads the toolkit's runtime settings from the environment
// and an optional TOML-ish config file, following simple typed-env-helper
// precedence rather than a configuration library.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ninestream/mediatoolkit/internal/safeurl"
)

// Config holds the operational knobs every component needs at
// construction time in a real deployment.
type Config struct {
	RTSPURL string

	ReconnectMaxAttempts int
	ReconnectInitialDelay time.Duration

	ReceiverChannelCapacity int

	HLSTargetDuration time.Duration
	HLSMaxSegments    int
	HLSOutputDir      string

	MetricsListenAddr string
	DebugListenAddr   string
	HealthListenAddr  string

	SegmentIndexPath string // sqlite file; "" disables persistence

	// SupervisorConfigPath, when set, makes main run as a supervisor that
	// launches one child mediatoolkit process per configured instance
	// instead of streaming itself.
	SupervisorConfigPath string
}

const defaultRTSPURL = "rtsp://example.com:554/stream"

// Load builds a Config from MEDIATOOLKIT_* environment variables, falling
// back to a "rtsp_url = ..." line in ./config.toml or
// ./mediatoolkit_config.toml, and finally to a built-in placeholder.
func Load() Config {
	cfg := Config{
		RTSPURL:                 defaultRTSPURL,
		ReconnectMaxAttempts:    getEnvInt("MEDIATOOLKIT_RECONNECT_MAX_ATTEMPTS", 3),
		ReconnectInitialDelay:   getEnvDuration("MEDIATOOLKIT_RECONNECT_INITIAL_DELAY", time.Second),
		ReceiverChannelCapacity: getEnvInt("MEDIATOOLKIT_RECEIVER_CHANNEL_CAPACITY", 100),
		HLSTargetDuration:       getEnvDuration("MEDIATOOLKIT_HLS_TARGET_DURATION", 2*time.Second),
		HLSMaxSegments:          getEnvInt("MEDIATOOLKIT_HLS_MAX_SEGMENTS", 6),
		HLSOutputDir:            getEnv("MEDIATOOLKIT_HLS_OUTPUT_DIR", "./hls"),
		MetricsListenAddr:       getEnv("MEDIATOOLKIT_METRICS_ADDR", ":9090"),
		DebugListenAddr:         getEnv("MEDIATOOLKIT_DEBUG_ADDR", ":9091"),
		HealthListenAddr:        getEnv("MEDIATOOLKIT_HEALTH_ADDR", ":9092"),
		SegmentIndexPath:        getEnv("MEDIATOOLKIT_SEGMENT_INDEX_PATH", ""),
		SupervisorConfigPath:    getEnv("MEDIATOOLKIT_SUPERVISOR_CONFIG", ""),
	}

	if url := fileRTSPURL("./config.toml", "./mediatoolkit_config.toml"); url != "" && os.Getenv("MEDIATOOLKIT_RTSP_URL") == "" {
		cfg.RTSPURL = url
	}
	if url := os.Getenv("MEDIATOOLKIT_RTSP_URL"); url != "" {
		cfg.RTSPURL = url
	}
	return cfg
}

// fileRTSPURL reads the first "rtsp_url = ..." line from the first config
// file in paths that exists and parses successfully.
func fileRTSPURL(paths ...string) string {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "rtsp_url") {
				continue
			}
			_, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			value = strings.Trim(value, `"'`)
			if value != "" {
				f.Close()
				return value
			}
		}
		f.Close()
	}
	return ""
}

// Validate rejects a Config whose RTSPURL isn't an "rtsp://" or "rtsps://"
// URL, catching a misconfigured source (an HTTP playlist, a typo, a stray
// file path) before any dial is attempted.
func (c Config) Validate() error {
	if !safeurl.IsRTSP(c.RTSPURL) {
		return fmt.Errorf("config: rtsp_url %q must be an rtsp:// or rtsps:// URL", c.RTSPURL)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
