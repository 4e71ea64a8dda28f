package store

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"loopcache/internal/lifecycle"
)

// ramSampleInterval is the background RAM sampler's tick (spec §4.5:
// "samples the process working-set size every ~5 s").
const ramSampleInterval = 5 * time.Second

// RunRAMSampler samples this process's working-set size (RSS) on a timer
// and feeds it to s.ObserveRAM, until ctx is canceled. Intended to run as
// its own goroutine for the lifetime of a data node.
func RunRAMSampler(ctx context.Context, s *Store, logger *log.Logger) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Printf("ram sampler: cannot inspect own process, falling back to default multiplier: %v", err)
		return
	}

	for {
		lifecycle.Sleep(ctx, ramSampleInterval)
		if ctx.Err() != nil {
			return
		}
		info, err := self.MemoryInfo()
		if err != nil {
			logger.Printf("ram sampler: read memory info: %v", err)
			continue
		}
		s.ObserveRAM(int64(info.RSS))
	}
}
