package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	c := Load()
	if c.RTSPURL != defaultRTSPURL {
		t.Errorf("RTSPURL default=%q", c.RTSPURL)
	}
	if c.ReconnectMaxAttempts != 3 {
		t.Errorf("ReconnectMaxAttempts=%d", c.ReconnectMaxAttempts)
	}
	if c.ReconnectInitialDelay != time.Second {
		t.Errorf("ReconnectInitialDelay=%v", c.ReconnectInitialDelay)
	}
	if c.HLSMaxSegments != 6 {
		t.Errorf("HLSMaxSegments=%d", c.HLSMaxSegments)
	}
	if c.HealthListenAddr != ":9092" {
		t.Errorf("HealthListenAddr=%q", c.HealthListenAddr)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	os.Clearenv()
	os.Setenv("MEDIATOOLKIT_RTSP_URL", "rtsp://cam.example/live")
	c := Load()
	if c.RTSPURL != "rtsp://cam.example/live" {
		t.Errorf("RTSPURL=%q", c.RTSPURL)
	}
}

func TestLoadFileFallback(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	defer os.Chdir(old)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("rtsp_url = \"rtsp://fromfile.example/stream\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	c := Load()
	if c.RTSPURL != "rtsp://fromfile.example/stream" {
		t.Errorf("RTSPURL=%q", c.RTSPURL)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	defer os.Chdir(old)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("rtsp_url = \"rtsp://fromfile.example/stream\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	os.Setenv("MEDIATOOLKIT_RTSP_URL", "rtsp://fromenv.example/stream")
	c := Load()
	if c.RTSPURL != "rtsp://fromenv.example/stream" {
		t.Errorf("RTSPURL=%q, want env value", c.RTSPURL)
	}
}

func TestValidateRejectsNonRTSPScheme(t *testing.T) {
	c := Config{RTSPURL: "http://example.com/playlist.m3u8"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a non-rtsp RTSPURL")
	}
}

func TestValidateAcceptsDefault(t *testing.T) {
	os.Clearenv()
	c := Load()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOperationalKnobs(t *testing.T) {
	os.Clearenv()
	os.Setenv("MEDIATOOLKIT_RECONNECT_MAX_ATTEMPTS", "5")
	os.Setenv("MEDIATOOLKIT_HLS_TARGET_DURATION", "4s")
	os.Setenv("MEDIATOOLKIT_HLS_MAX_SEGMENTS", "10")
	c := Load()
	if c.ReconnectMaxAttempts != 5 {
		t.Errorf("ReconnectMaxAttempts=%d", c.ReconnectMaxAttempts)
	}
	if c.HLSTargetDuration != 4*time.Second {
		t.Errorf("HLSTargetDuration=%v", c.HLSTargetDuration)
	}
	if c.HLSMaxSegments != 10 {
		t.Errorf("HLSMaxSegments=%d", c.HLSMaxSegments)
	}
}
