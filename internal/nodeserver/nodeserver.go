// Package nodeserver wires a loaded config into a running master or data
// node: the wire-protocol listener, the ambient adminhttp introspection
// server, and (on a data node) the registration loop and RAM sampler.
// Both cmd/loopcached and cmd/loopcachectl's "serve" subcommand call into
// this package so the two binaries share one server implementation.
package nodeserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"loopcache/internal/adminhttp"
	"loopcache/internal/config"
	"loopcache/internal/datanode"
	"loopcache/internal/master"
	"loopcache/internal/store"
)

// adminPortOffset is added to the configured wire port to derive the
// ambient HTTP introspection port. There is no setting to override it; a
// fixed offset keeps it predictable across a cluster.
const adminPortOffset = 1000

// Run loads configPath and serves the role it describes (master or data
// node) until ctx is canceled.
func Run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("nodeserver: load config: %w", err)
	}

	switch cfg.Role {
	case config.RoleMaster:
		return runMaster(ctx, cfg)
	case config.RoleData:
		return runDataNode(ctx, cfg)
	default:
		return fmt.Errorf("nodeserver: unknown role %v", cfg.Role)
	}
}

func runMaster(ctx context.Context, cfg *config.Config) error {
	logger := log.New(os.Stderr, "[master] ", log.LstdFlags)
	m := master.New(cfg, nil, logger)

	wireAddr := fmt.Sprintf("%s:%d", cfg.MasterHost, cfg.MasterPort)
	ln, err := net.Listen("tcp", wireAddr)
	if err != nil {
		return fmt.Errorf("nodeserver: listen %s: %w", wireAddr, err)
	}

	adminLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.MasterPort+adminPortOffset))
	if err != nil {
		return fmt.Errorf("nodeserver: listen admin http: %w", err)
	}
	adminHandler := adminhttp.NewHandler("master", m.Ring(), nil, logger)
	adminEngine := adminhttp.NewEngine(adminHandler)

	logger.Printf("listening on %s (wire), %s (admin http)", wireAddr, adminLn.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Serve(ctx, ln) })
	g.Go(func() error {
		go func() { <-ctx.Done(); adminLn.Close() }()
		if err := adminEngine.RunListener(adminLn); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	return g.Wait()
}

func runDataNode(ctx context.Context, cfg *config.Config) error {
	logger := log.New(os.Stderr, "[datanode] ", log.LstdFlags)

	st := store.New(1 << 30) // capacity corrected to this node's declared MaxBytes once Register returns a ring
	masterAddr := fmt.Sprintf("%s:%d", cfg.MasterHost, cfg.MasterPort)
	d := datanode.New(cfg.ListenerHost, cfg.ListenerPort, masterAddr, st, nil, logger)

	wireAddr := fmt.Sprintf("%s:%d", cfg.ListenerIP, cfg.ListenerPort)
	ln, err := net.Listen("tcp", wireAddr)
	if err != nil {
		return fmt.Errorf("nodeserver: listen %s: %w", wireAddr, err)
	}

	adminLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenerPort+adminPortOffset))
	if err != nil {
		return fmt.Errorf("nodeserver: listen admin http: %w", err)
	}
	adminHandler := adminhttp.NewHandler("data", d, d, logger)
	adminEngine := adminhttp.NewEngine(adminHandler)

	logger.Printf("listening on %s (wire), %s (admin http), master %s", wireAddr, adminLn.Addr(), masterAddr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Serve(ctx, ln) })
	g.Go(func() error {
		go func() { <-ctx.Done(); adminLn.Close() }()
		if err := adminEngine.RunListener(adminLn); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { d.RunRegistrationLoop(ctx); return nil })
	g.Go(func() error { store.RunRAMSampler(ctx, st, logger); return nil })
	return g.Wait()
}
