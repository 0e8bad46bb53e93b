package controlplane

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo describes the daemon process serving the API.
type ProcessInfo struct {
	PID        int32     `json:"pid"`
	StartedAt  time.Time `json:"startedAt"`
	Uptime     string    `json:"uptime"`
	RSS        uint64    `json:"rss"`
	CPUPercent float64   `json:"cpuPercent"`
	NumThreads int32     `json:"numThreads"`
}

func currentProcess(ctx context.Context) (*ProcessInfo, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("process lookup: %w", err)
	}

	info := &ProcessInfo{PID: p.Pid}

	// the remaining fields are best effort, not every platform has them
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		info.StartedAt = time.UnixMilli(created)
		info.Uptime = time.Since(info.StartedAt).Round(time.Second).String()
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		info.RSS = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		info.CPUPercent = cpu
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		info.NumThreads = threads
	}
	return info, nil
}
