package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/jackhou/buildbot/remoteworker"
)

// fakeWorker is a controllable remoteworker.Worker for dispatcher tests.
type fakeWorker struct {
	mu sync.Mutex

	connected bool

	AttachErr      error
	PrepareErr     error
	PrepareReady   bool
	PingErr        error
	PingOK         bool
	RemoteStartErr error
	RemoteAccepted bool
	RemoteReason   string

	buildStartedCalls int
	buildFinishCalls  int
	releaseLockCalls  int
	detachCalls       int
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{connected: true, PrepareReady: true, PingOK: true, RemoteAccepted: true}
}

func (w *fakeWorker) Attach(context.Context, string) error {
	return w.AttachErr
}

func (w *fakeWorker) Prepare(context.Context, string) error {
	if !w.PrepareReady && w.PrepareErr == nil {
		return errNotReady
	}
	return w.PrepareErr
}

func (w *fakeWorker) Ping(context.Context) error {
	if !w.PingOK && w.PingErr == nil {
		return errPingFailed
	}
	return w.PingErr
}

func (w *fakeWorker) BuildStarted(context.Context, int64) error {
	w.mu.Lock()
	w.buildStartedCalls++
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) RemoteStartBuild(context.Context, remoteworker.StartBuildArgs) (remoteworker.StartBuildReply, error) {
	if w.RemoteStartErr != nil {
		return remoteworker.StartBuildReply{}, w.RemoteStartErr
	}
	return remoteworker.StartBuildReply{Accepted: w.RemoteAccepted, Reason: w.RemoteReason}, nil
}

func (w *fakeWorker) BuildFinished(context.Context, int64) error {
	w.mu.Lock()
	w.buildFinishCalls++
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) ReleaseLocks(context.Context, int64) error {
	w.mu.Lock()
	w.releaseLockCalls++
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Detach(context.Context) error {
	w.mu.Lock()
	w.detachCalls++
	w.connected = false
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Connection() remoteworker.ConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return remoteworker.ConnectionState{Connected: w.connected, LastActive: time.Now()}
}

func (w *fakeWorker) setConnected(v bool) {
	w.mu.Lock()
	w.connected = v
	w.mu.Unlock()
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const (
	errNotReady   = sentinelErr("not ready")
	errPingFailed = sentinelErr("ping failed")
)
