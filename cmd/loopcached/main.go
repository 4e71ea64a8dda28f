// cmd/loopcached is the canonical LoopCache binary (spec §6 "CLI
// surface"): it runs a single node — master or data node, whichever its
// config file describes — and exits 0 on success, 1 on an argument error,
// 2 on a runtime error. The richer subcommand-per-action CLI lives in
// cmd/loopcachectl; this binary keeps the flat flag surface the spec
// names directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"loopcache/internal/nodeserver"
)

const (
	exitOK        = 0
	exitArgError  = 1
	exitRuntimeError = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("loopcached", flag.ContinueOnError)
	test := fs.Bool("test", false, "run local unit tests")
	testClient := fs.String("testclient", "", "client-side integration tests against a running cluster (host:port)")
	server := fs.String("server", "", "run master or data node per config file")
	if err := fs.Parse(args); err != nil {
		return exitArgError
	}

	switch {
	case *test:
		return runLocalTests()
	case *testClient != "":
		return runClientTests(*testClient)
	case *server != "":
		return runServer(*server)
	default:
		fmt.Fprintln(os.Stderr, "usage: loopcached -server <config.txt> | -test | -testclient <host:port>")
		return exitArgError
	}
}

// runLocalTests shells out to the Go toolchain's own test runner — a
// compiled binary cannot re-invoke `go test` on itself any other way, and
// this is the idiomatic wrapper a CLI-shaped "-test" flag resolves to.
func runLocalTests() int {
	cmd := exec.Command("go", "test", "./...")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "loopcached: -test: %v\n", err)
		return exitRuntimeError
	}
	return exitOK
}

func runServer(configPath string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	if err := nodeserver.Run(ctx, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "loopcached: %v\n", err)
		return exitRuntimeError
	}
	return exitOK
}
