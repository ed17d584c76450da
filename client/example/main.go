package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackhou/buildbot/client"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Printf("Usage: %s <dispatcherd-url> <builder-name> <buildset-id>\n", os.Args[0])
		os.Exit(1)
	}

	baseURL := os.Args[1]
	builderName := os.Args[2]
	buildsetID, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil {
		log.Fatalf("invalid buildset id: %v", err)
	}

	c := client.NewClient(baseURL)

	fmt.Println("Checking dispatcherd health...")
	if err := c.HealthCheck(); err != nil {
		log.Fatalf("health check failed: %v", err)
	}
	fmt.Println("ok")

	fmt.Printf("Submitting request against builder %q...\n", builderName)
	resp, err := c.SubmitBuildRequest(client.SubmitRequest{
		BuildsetID:  buildsetID,
		BuilderName: builderName,
	})
	if err != nil {
		log.Fatalf("submit failed: %v", err)
	}
	fmt.Printf("queued request %d\n", resp.RequestID)

	fmt.Println("Waiting for builder to return to idle...")
	status, err := c.WaitForIdle(builderName, 30*time.Minute)
	if err != nil {
		log.Fatalf("wait failed: %v", err)
	}
	fmt.Printf("builder %s is now %s (%d in flight)\n", status.Name, status.BigState, status.InFlightCount)
}
