package tracer

import (
	"os/exec"
	"runtime"
	"testing"
)

func TestAttachDetach(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ptrace is linux-only")
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("could not start target: %v", err)
	}
	defer cmd.Process.Kill()

	tr, err := Attach(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if tr.Pid != cmd.Process.Pid {
		t.Fatalf("Pid = %d, want %d", tr.Pid, cmd.Process.Pid)
	}

	if err := tr.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := tr.Detach(); err != nil {
		t.Fatalf("second Detach should be a no-op, got: %v", err)
	}
}

func TestReadMapsText(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("/proc/pid/maps is linux-only")
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("could not start target: %v", err)
	}
	defer cmd.Process.Kill()

	tr, err := Attach(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer tr.Detach()

	text, err := tr.ReadMapsText()
	if err != nil {
		t.Fatalf("ReadMapsText: %v", err)
	}
	if len(text) == 0 {
		t.Fatalf("expected a non-empty maps listing")
	}
}

func TestReadMemory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ptrace is linux-only")
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("could not start target: %v", err)
	}
	defer cmd.Process.Kill()

	tr, err := Attach(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer tr.Detach()

	dst := make([]byte, 3)
	if _, err := tr.ReadMemory(dst, 0); err == nil {
		t.Fatalf("reading from address 0 should fail")
	}
}
