// cmd/loopcachectl is a Cobra-shaped operations CLI for LoopCache: each
// subcommand is one cluster action (serve, add, remove, resize, list, stats,
// get, put, delete, clear) taking positional args, so the cluster can be
// driven the way an operator drives any other Cobra tool. cmd/loopcached
// shares only the serve action (its -server flag).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"loopcache/internal/client"
	"loopcache/internal/nodeserver"
)

var (
	masterAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "loopcachectl",
		Short: "Operations CLI for a LoopCache cluster",
	}

	root.PersistentFlags().StringVarP(&masterAddr, "master", "m",
		"127.0.0.1:7070", "master host:port")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second,
		"request timeout")

	root.AddCommand(
		serveCmd(),
		addCmd(),
		removeCmd(),
		resizeCmd(),
		listCmd(),
		statsCmd(),
		getCmd(),
		putCmd(),
		deleteCmd(),
		clearCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(masterAddr, nil)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// ─── serve ──────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve <config.txt>",
		Short: "Run a master or data node per its config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return nodeserver.Run(cmd.Context(), args[0])
		},
	}
}

// ─── add / remove / resize ──────────────────────────────────────────────────

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <host> <port> <maxBytes>",
		Short: "Register a new data node with the master",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, maxBytes, err := parseHostArgs(args[1], args[2])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().AddNode(ctx, args[0], port, maxBytes)
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <host> <port>",
		Short: "Drain and remove a data node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad port %q: %w", args[1], err)
			}
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().RemoveNode(ctx, args[0], int32(port))
		},
	}
}

func resizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resize <host> <port> <maxBytes>",
		Short: "Change a data node's declared capacity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, maxBytes, err := parseHostArgs(args[1], args[2])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().ChangeNode(ctx, args[0], port, maxBytes)
		},
	}
}

// ─── list / stats ───────────────────────────────────────────────────────────

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every node currently in the ring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			nodes, err := newClient().ListNodes(ctx)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				fmt.Printf("%s  %s  maxBytes=%d\n", n.Name(), n.Status, n.MaxBytes)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <host> <port>",
		Short: "Fetch one data node's own usage stats",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad port %q: %w", args[1], err)
			}
			ctx, cancel := withTimeout()
			defer cancel()
			stats, err := newClient().GetStats(ctx, args[0], int32(port))
			if err != nil {
				return err
			}
			prettyPrint(stats)
			return nil
		},
	}
}

// ─── get / put / delete / clear ─────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			value, err := newClient().Get(ctx, args[0])
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(string(value))
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().Put(ctx, args[0], []byte(args[1]))
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			if err := newClient().Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Wipe every data node's store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout()
			defer cancel()
			return newClient().Clear(ctx)
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseHostArgs(portArg, maxBytesArg string) (int32, int64, error) {
	port, err := strconv.Atoi(portArg)
	if err != nil {
		return 0, 0, fmt.Errorf("bad port %q: %w", portArg, err)
	}
	maxBytes, err := strconv.ParseInt(maxBytesArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad maxBytes %q: %w", maxBytesArg, err)
	}
	return int32(port), maxBytes, nil
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
