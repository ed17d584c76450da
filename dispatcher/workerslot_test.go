package dispatcher

import (
	"context"
	"testing"
)

func TestWorkerSlotHappyPathStateMachine(t *testing.T) {
	w := newFakeWorker()
	slot := &WorkerSlot{WorkerName: "w1", Worker: w, State: StateAttaching}

	if err := slot.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if slot.State != StateIdle {
		t.Fatalf("expected IDLE after attach, got %s", slot.State)
	}

	ready, err := slot.Prepare(context.Background(), "compile")
	if err != nil || !ready {
		t.Fatalf("Prepare: ready=%v err=%v", ready, err)
	}

	ok, err := slot.Ping(context.Background())
	if err != nil || !ok {
		t.Fatalf("Ping: ok=%v err=%v", ok, err)
	}
	if slot.State != StateIdle {
		t.Fatalf("expected IDLE after successful ping, got %s", slot.State)
	}

	if err := slot.BuildStarted(); err != nil {
		t.Fatalf("BuildStarted: %v", err)
	}
	if slot.State != StateBuilding {
		t.Fatalf("expected BUILDING, got %s", slot.State)
	}

	slot.BuildFinished()
	if slot.State != StateIdle {
		t.Fatalf("expected IDLE after buildFinished, got %s", slot.State)
	}
}

func TestWorkerSlotPingFailureReturnsToIdle(t *testing.T) {
	w := newFakeWorker()
	slot := &WorkerSlot{WorkerName: "w1", Worker: w, State: StateIdle}

	w.PingOK = false
	ok, err := slot.Ping(context.Background())
	if ok || err == nil {
		t.Fatalf("expected ping failure, got ok=%v err=%v", ok, err)
	}
	if slot.State != StateIdle {
		t.Fatalf("expected IDLE after ping failure on a live connection, got %s", slot.State)
	}

	// Only a lost connection moves the slot to DETACHED.
	w.setConnected(false)
	if ok, _ := slot.Ping(context.Background()); ok {
		t.Fatal("expected ping failure once disconnected")
	}
	if slot.State != StateDetached {
		t.Fatalf("expected DETACHED after connection loss, got %s", slot.State)
	}
}

func TestWorkerSlotBuildStartedRequiresIdle(t *testing.T) {
	slot := &WorkerSlot{WorkerName: "w1", Worker: newFakeWorker(), State: StatePinging}
	if err := slot.BuildStarted(); err == nil {
		t.Fatal("expected error transitioning to BUILDING from non-IDLE state")
	}
}

func TestWorkerSlotDetachIsIdempotent(t *testing.T) {
	w := newFakeWorker()
	slot := &WorkerSlot{WorkerName: "w1", Worker: w, State: StateBuilding}

	if err := slot.Detach(context.Background()); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := slot.Detach(context.Background()); err != nil {
		t.Fatalf("second Detach: %v", err)
	}
	if slot.State != StateDetached {
		t.Fatalf("expected DETACHED, got %s", slot.State)
	}
	if w.detachCalls != 1 {
		t.Fatalf("expected exactly 1 underlying detach call, got %d", w.detachCalls)
	}
}
