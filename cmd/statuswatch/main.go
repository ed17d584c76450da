// Command statuswatch subscribes to the dispatcher's event bus and prints
// each buildrequest completion/unclaim event as it arrives, as a minimal
// operator-facing tail of dispatcher activity.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackhou/buildbot/eventbus"
)

func main() {
	natsURL := os.Getenv("DISPATCHER_NATS_URL")
	if len(os.Args) > 1 {
		natsURL = os.Args[1]
	}
	if natsURL == "" {
		fmt.Println("usage: statuswatch <nats-url>")
		os.Exit(1)
	}

	bus, err := eventbus.NewNATSBus(natsURL, "dispatcher")
	if err != nil {
		fmt.Printf("failed to connect to NATS: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe, err := bus.Subscribe(ctx, eventbus.RoutingKey{"buildrequest", ">"})
	if err != nil {
		fmt.Printf("failed to subscribe: %v\n", err)
		os.Exit(1)
	}
	defer unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("watching buildrequest.* events, ctrl-c to exit")
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Printf("%s %+v\n", ev.Key.String(), ev.Payload)
		case <-sigCh:
			return
		}
	}
}
