// Package testserver is a reference remote-worker RPC server: a minimal
// implementation of the "Worker" net/rpc service that remoteworker.Client
// dials, grounded on the teacher's WorkerService.StartServer/
// RegisterRPCMethods pairing. It exists for local testing and as a demo
// binary, not as part of the dispatcher's public contract.
package testserver

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/jackhou/buildbot/remoteworker"
)

// Server implements the worker side of the net/rpc "Worker" service.
type Server struct {
	mu       sync.Mutex
	attached string
	lastPing time.Time
	builds   map[int64]bool

	// RunBuild, if set, is invoked synchronously from RemoteStartBuild and
	// determines StartBuildReply.Accepted. Tests substitute this to
	// simulate acceptance or rejection without a real build runner.
	RunBuild func(args remoteworker.StartBuildArgs) remoteworker.StartBuildReply
}

// NewServer returns a Server with a RunBuild that always accepts.
func NewServer() *Server {
	return &Server{
		builds: make(map[int64]bool),
		RunBuild: func(remoteworker.StartBuildArgs) remoteworker.StartBuildReply {
			return remoteworker.StartBuildReply{Accepted: true}
		},
	}
}

// Listen starts serving the RPC interface on addr ("127.0.0.1:0" picks a
// free port) and returns the actual listen address.
func (s *Server) Listen(addr string) (string, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Worker", s); err != nil {
		return "", fmt.Errorf("register worker RPC service: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go rpcServer.ServeConn(conn)
		}
	}()

	return listener.Addr().String(), nil
}

func (s *Server) Attach(workerName *string, _ *struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = *workerName
	s.lastPing = time.Now()
	log.Printf("worker test server: attached as %q", *workerName)
	return nil
}

func (s *Server) Prepare(_ *string, _ *struct{}) error {
	return nil
}

func (s *Server) Ping(_ *struct{}, _ *struct{}) error {
	s.mu.Lock()
	s.lastPing = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Server) BuildStarted(buildID *int64, _ *struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds[*buildID] = true
	return nil
}

func (s *Server) RemoteStartBuild(args *remoteworker.StartBuildArgs, reply *remoteworker.StartBuildReply) error {
	*reply = s.RunBuild(*args)
	return nil
}

func (s *Server) BuildFinished(buildID *int64, _ *struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.builds, *buildID)
	return nil
}

func (s *Server) ReleaseLocks(_ *int64, _ *struct{}) error {
	return nil
}

// ActiveBuilds reports how many builds are currently tracked as started,
// for test assertions.
func (s *Server) ActiveBuilds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.builds)
}
