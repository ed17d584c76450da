package remoteworker

import (
	"context"
	"fmt"
	"net/rpc"
	"sync"
	"time"
)

// Client is a Worker backed by net/rpc, mirroring the teacher's
// WorkerService/RPC pairing but calling out to a worker process rather than
// serving as one.
type Client struct {
	mu         sync.RWMutex
	rpcClient  *rpc.Client
	workerName string
	lastActive time.Time
}

// Dial connects to a worker's RPC listener at addr.
func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial worker at %s: %w", addr, err)
	}
	return &Client{rpcClient: c, lastActive: time.Now()}, nil
}

func (c *Client) call(serviceMethod string, args, reply interface{}) error {
	if err := c.rpcClient.Call(serviceMethod, args, reply); err != nil {
		return fmt.Errorf("%s: %w", serviceMethod, err)
	}
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) Attach(_ context.Context, workerName string) error {
	c.mu.Lock()
	c.workerName = workerName
	c.mu.Unlock()
	return c.call("Worker.Attach", &workerName, &struct{}{})
}

func (c *Client) Prepare(_ context.Context, builderName string) error {
	return c.call("Worker.Prepare", &builderName, &struct{}{})
}

func (c *Client) Ping(_ context.Context) error {
	return c.call("Worker.Ping", &struct{}{}, &struct{}{})
}

func (c *Client) BuildStarted(_ context.Context, buildID int64) error {
	return c.call("Worker.BuildStarted", &buildID, &struct{}{})
}

func (c *Client) RemoteStartBuild(_ context.Context, args StartBuildArgs) (StartBuildReply, error) {
	var reply StartBuildReply
	err := c.call("Worker.RemoteStartBuild", &args, &reply)
	return reply, err
}

func (c *Client) BuildFinished(_ context.Context, buildID int64) error {
	return c.call("Worker.BuildFinished", &buildID, &struct{}{})
}

func (c *Client) ReleaseLocks(_ context.Context, buildID int64) error {
	return c.call("Worker.ReleaseLocks", &buildID, &struct{}{})
}

func (c *Client) Detach(_ context.Context) error {
	err := c.rpcClient.Close()
	c.mu.Lock()
	c.lastActive = time.Time{}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("close worker connection: %w", err)
	}
	return nil
}

func (c *Client) Connection() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionState{Connected: !c.lastActive.IsZero(), LastActive: c.lastActive}
}
