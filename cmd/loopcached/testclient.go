package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"loopcache/internal/client"
)

// runClientTests drives a short integration check against a live cluster
// reachable through the master at addr (spec §6 "-testclient <host:port>
// — client-side integration tests against a running cluster").
func runClientTests(masterAddr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := client.New(masterAddr, nil)
	key := fmt.Sprintf("loopcached-testclient-%d", time.Now().UnixNano())
	value := []byte("integration-check")

	if err := c.Put(ctx, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "testclient: put: %v\n", err)
		return exitRuntimeError
	}

	got, err := c.Get(ctx, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testclient: get: %v\n", err)
		return exitRuntimeError
	}
	if string(got) != string(value) {
		fmt.Fprintf(os.Stderr, "testclient: get returned %q, want %q\n", got, value)
		return exitRuntimeError
	}

	if err := c.Delete(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "testclient: delete: %v\n", err)
		return exitRuntimeError
	}

	if _, err := c.Get(ctx, key); err != client.ErrNotFound {
		fmt.Fprintf(os.Stderr, "testclient: get after delete = %v, want ErrNotFound\n", err)
		return exitRuntimeError
	}

	nodes, err := c.ListNodes(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testclient: list nodes: %v\n", err)
		return exitRuntimeError
	}

	fmt.Printf("testclient: OK (put/get/delete round trip, %d nodes in ring)\n", len(nodes))
	return exitOK
}
