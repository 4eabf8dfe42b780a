package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func withClock(t *testing.T, start time.Time) {
	t.Helper()
	orig := now
	tick := start
	now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	t.Cleanup(func() { now = orig })
}

func TestBackupFile_NoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".amanrank.yaml")

	backupPath, err := BackupFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backupPath != "" {
		t.Errorf("expected empty backup path for missing file, got %s", backupPath)
	}
}

func TestBackupFile_CopiesContent(t *testing.T) {
	withClock(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	path := filepath.Join(t.TempDir(), ".amanrank.yaml")
	content := "version: 1\nindex:\n  name: chatbot_docs\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	backupPath, err := BackupFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(backupPath), ".amanrank.yaml.bak.20260102-030406") {
		t.Errorf("unexpected backup name: %s", backupPath)
	}
	got, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if string(got) != content {
		t.Errorf("backup content mismatch:\ngot: %s\nwant: %s", got, content)
	}
}

func TestBackupFile_KeepsOnlyMaxBackups(t *testing.T) {
	withClock(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	path := filepath.Join(t.TempDir(), ".amanrank.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var last string
	for i := 0; i < MaxBackups+2; i++ {
		b, err := BackupFile(path)
		if err != nil {
			t.Fatalf("backup %d failed: %v", i, err)
		}
		last = b
	}

	backups, err := ListBackups(path)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(backups) != MaxBackups {
		t.Fatalf("expected %d backups, got %d: %v", MaxBackups, len(backups), backups)
	}
	if backups[0] != last {
		t.Errorf("newest backup should be first, got %s want %s", backups[0], last)
	}
}

func TestListBackups_MissingDir(t *testing.T) {
	backups, err := ListBackups(filepath.Join(t.TempDir(), "missing", ".amanrank.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("expected no backups, got %v", backups)
	}
}
