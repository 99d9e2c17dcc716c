package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigRoundTrip(t *testing.T) {
	cfg := NewConfig("/data/kbwatch")
	cfg.Watch.Paths = []string{"/notes", "/journal/today.md"}
	cfg.Watch.DebounceMS = 500
	cfg.Classifier.Strategy = "keywords"
	cfg.Classifier.Keywords = []string{"deadline", "urgent"}
	cfg.Retention.Exclude = []string{"!pinned_*"}

	m := &Manager{}
	var buf bytes.Buffer
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != cfg.BaseDir {
		t.Errorf("BaseDir = %s, want %s", got.BaseDir, cfg.BaseDir)
	}
	if len(got.Watch.Paths) != 2 || got.Watch.Paths[1] != "/journal/today.md" {
		t.Errorf("Watch.Paths = %v, want %v", got.Watch.Paths, cfg.Watch.Paths)
	}
	if got.Watch.DebounceMS != 500 {
		t.Errorf("DebounceMS = %d, want 500", got.Watch.DebounceMS)
	}
	if got.Classifier.Strategy != "keywords" {
		t.Errorf("Strategy = %s, want keywords", got.Classifier.Strategy)
	}
	if len(got.Retention.Exclude) != 1 || got.Retention.Exclude[0] != "!pinned_*" {
		t.Errorf("Exclude = %v, want [!pinned_*]", got.Retention.Exclude)
	}
}

func TestReadInvalidConfig(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("this is not [valid toml"))
	if err == nil {
		t.Error("Read() accepted invalid TOML")
	}
}

func TestWatchConfigDebounce(t *testing.T) {
	def := 2 * time.Second

	tests := []struct {
		name string
		ms   int
		want time.Duration
	}{
		{"zero uses default", 0, def},
		{"negative disables", -1, 0},
		{"positive is milliseconds", 250, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WatchConfig{DebounceMS: tt.ms}
			if got := w.Debounce(def); got != tt.want {
				t.Errorf("Debounce() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{BaseDir: "/data/kbwatch"}

	if got := cfg.DatabasePath(); got != filepath.Join("/data/kbwatch", "kbwatch.db") {
		t.Errorf("DatabasePath() = %s", got)
	}
	if got := cfg.BackupDir(); got != filepath.Join("/data/kbwatch", "backups") {
		t.Errorf("BackupDir() = %s", got)
	}
	if got := cfg.RetentionBaseDir(); got != "/data/kbwatch" {
		t.Errorf("RetentionBaseDir() = %s", got)
	}

	cfg.Database.Path = "/elsewhere/ledger.db"
	cfg.Retention.BaseDir = "/elsewhere/artifacts"
	if got := cfg.DatabasePath(); got != "/elsewhere/ledger.db" {
		t.Errorf("DatabasePath() override = %s", got)
	}
	if got := cfg.RetentionBaseDir(); got != "/elsewhere/artifacts" {
		t.Errorf("RetentionBaseDir() override = %s", got)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kbwatch.toml")
	cfg := NewConfig(filepath.Join(dir, "data"))

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.BaseDir != cfg.BaseDir {
		t.Errorf("BaseDir = %s, want %s", got.BaseDir, cfg.BaseDir)
	}

	// A second Init must refuse to clobber the existing file.
	if err := Init(path, cfg); err == nil {
		t.Error("Init() overwrote an existing config file")
	}
}

func TestReadFromFileMissing(t *testing.T) {
	_, err := ReadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Error("ReadFromFile() succeeded for a missing file")
	}
}
