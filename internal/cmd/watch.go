package cmd

import (
	"context"
	"time"

	"github.com/zfogg/sidechain/clientsync/pkg/output"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// waitForInterrupt blocks until ctx is cancelled by SIGINT or SIGTERM
func waitForInterrupt(ctx context.Context, p *output.Printer) {
	p.Info("Press Ctrl+C to stop")
	<-ctx.Done()
}

// describeMode tells the user how a watch receives changes
func describeMode(p *output.Printer, mode syncer.Mode) {
	switch mode {
	case syncer.ModeRealtime:
		p.Info("Watching via realtime channel")
	case syncer.ModePolling:
		p.Warning("Realtime unavailable, polling instead")
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
