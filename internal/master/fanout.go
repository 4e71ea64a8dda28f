package master

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"loopcache/internal/cluster"
)

// fanOut runs task against every node in parallel, logging (but not
// propagating) individual failures — a push that fails for one peer must
// never block or fail the push to the rest (spec §5: "the master issues
// fan-out in parallel and does not wait for consensus").
func fanOut(ctx context.Context, nodes []*cluster.Node, task func(context.Context, *cluster.Node) error, logger *log.Logger, label string) {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			if err := task(ctx, n); err != nil {
				logger.Printf("master: %s fan-out to %s: %v", label, n.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
