package vm

import (
	"context"
	"testing"
	"time"

	"flock/pkg/memory"
	"flock/pkg/snapshot"
)

// A thread snapshotted mid-run resumes in a fresh process with its
// stack and local memory intact.
func TestSnapshotRestoreResumesThread(t *testing.T) {
	src := `
STORE 0, 40
PUSH 2
ADD $mem[0], $pop
EXIT $pop
`
	prog := mustParse(t, src)

	source, err := NewProcess(prog, memory.Config{})
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	root, err := source.SpawnRoot()
	if err != nil {
		t.Fatalf("SpawnRoot failed: %v", err)
	}

	// Run the first two instructions, then capture the thread.
	for i := 0; i < 2; i++ {
		out, err := source.ExecuteStep(root)
		if err != nil {
			t.Fatalf("ExecuteStep failed: %v", err)
		}
		if out.Kind != OutcomeContinue {
			t.Fatalf("step %d: expected Continue, got %v", i, out.Kind)
		}
	}

	img, err := source.SnapshotThread(root)
	if err != nil {
		t.Fatalf("SnapshotThread failed: %v", err)
	}
	if img.IP != 2 {
		t.Errorf("expected snapshot at instruction 2, got %d", img.IP)
	}

	// Serialize across the migration boundary.
	data, err := snapshot.Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	restored, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	dest, err := NewProcess(prog, memory.Config{})
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	if err := dest.RestoreThread(restored); err != nil {
		t.Fatalf("RestoreThread failed: %v", err)
	}

	status, err := dest.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != 42 {
		t.Errorf("expected the resumed thread to exit with 42, got %d", status)
	}
}

func TestSnapshotRefusedWhileRunning(t *testing.T) {
	// While Run owns the threads, their stacks and arenas mutate on
	// other goroutines; snapshots are only taken from a quiesced or
	// ExecuteStep-driven process.
	src := `
FORK :child
JOIN $pop
EXIT $pop
:child
:spin
JUMP :spin
`
	proc, err := NewProcess(mustParse(t, src), memory.Config{})
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	root, err := proc.SpawnRoot()
	if err != nil {
		t.Fatalf("SpawnRoot failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Run(ctx)
	}()

	// Wait for the root to park on its join, so the process is
	// definitely mid-run.
	blocked := false
	for i := 0; i < 5000; i++ {
		state, err := proc.State(root)
		if err != nil {
			break
		}
		if state == ThreadBlocked {
			blocked = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !blocked {
		cancel()
		<-done
		t.Fatal("root never blocked on its join")
	}

	if _, err := proc.SnapshotThread(root); err == nil {
		t.Error("expected an error snapshotting a running process")
	}

	cancel()
	<-done

	// The quiesced process snapshots fine.
	if _, err := proc.SnapshotThread(root); err != nil {
		t.Errorf("snapshot after the run stopped failed: %v", err)
	}
}

func TestRestoreRejectsDuplicateThread(t *testing.T) {
	prog := mustParse(t, "EXIT 0")

	proc, err := NewProcess(prog, memory.Config{})
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	root, err := proc.SpawnRoot()
	if err != nil {
		t.Fatalf("SpawnRoot failed: %v", err)
	}

	img, err := proc.SnapshotThread(root)
	if err != nil {
		t.Fatalf("SnapshotThread failed: %v", err)
	}
	if err := proc.RestoreThread(img); err == nil {
		t.Error("expected an error restoring over a live thread")
	}
}

func TestRestoreBumpsIDAllocator(t *testing.T) {
	prog := mustParse(t, `
FORK :child
JOIN $pop
EXIT $pop
:child
NOP $pop
THREAD_FINISH $tid
`)

	source, err := NewProcess(prog, memory.Config{})
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	root, err := source.SpawnRoot()
	if err != nil {
		t.Fatalf("SpawnRoot failed: %v", err)
	}
	img, err := source.SnapshotThread(root)
	if err != nil {
		t.Fatalf("SnapshotThread failed: %v", err)
	}

	dest, err := NewProcess(prog, memory.Config{})
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	if err := dest.RestoreThread(img); err != nil {
		t.Fatalf("RestoreThread failed: %v", err)
	}

	// The restored thread kept id 1, so its fork must get id 2, not a
	// colliding reuse of 1.
	status, err := dest.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != 2 {
		t.Errorf("expected the forked thread to report id 2, got %d", status)
	}
}
