package offline

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCaptureWritesExpectedFiles(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ptrace is linux-only")
	}
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("no ReadRegisters for this GOARCH")
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("could not start target: %v", err)
	}
	defer cmd.Process.Kill()

	dir := t.TempDir()
	if err := Capture(cmd.Process.Pid, dir); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	for _, name := range []string{"maps.txt", "regs.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
}
