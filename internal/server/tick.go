package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/eventbus"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
	"github.com/Houngansi/SuspenseCore-sub009/internal/rules"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

// QueuedResult is the outcome of a request accepted by Enqueue.
type QueuedResult struct {
	PlayerID string                    `json:"player_id"`
	ClientIP string                    `json:"client_ip,omitempty"`
	Result   equipment.OperationResult `json:"result"`
}

// TickReport summarizes one tick.
type TickReport struct {
	Tick     uint64                 `json:"tick"`
	Results  []QueuedResult         `json:"results,omitempty"`
	Outbound []replication.Outbound `json:"outbound,omitempty"`
	Deferred int                    `json:"deferred"`
	Expired  int                    `json:"expired"`
	Flushed  int                    `json:"flushed"`
}

// Tick processes up to Server.MaxOpsPerTick queued requests, runs one
// replication pass per player (in player id order), sweeps expired
// transactions and flushes NextFrame bus deliveries.
func (s *Service) Tick(ctx context.Context) TickReport {
	rep := TickReport{Tick: s.ticks.Add(1)}

	if ctx.Err() == nil {
		for _, q := range s.queue.Take(s.cfg.Server.MaxOpsPerTick) {
			res := s.Submit(ctx, q.req, q.ip)
			rep.Results = append(rep.Results, QueuedResult{PlayerID: q.req.PlayerID, ClientIP: q.ip, Result: res})
		}
	}
	rep.Deferred = s.queue.Len()

	for _, p := range s.sortedPlayers() {
		if p.netReported.Load() {
			p.repl.AdaptStrategy(p.repl.AverageQuality())
		}
		rep.Outbound = append(rep.Outbound, p.repl.ProcessReplication()...)
		rep.Expired += p.tx.CleanupExpired()
	}
	rep.Flushed = s.bus.Flush()

	if len(rep.Results) > 0 || rep.Expired > 0 {
		slog.Debug("tick",
			"tick", rep.Tick, "processed", len(rep.Results), "deferred", rep.Deferred,
			"outbound", len(rep.Outbound), "expired", rep.Expired)
	}
	return rep
}

// Run ticks at Server.TickRate until ctx is cancelled, handing every report
// to handle (which may be nil). The security cleanup loop runs alongside.
// Returns ctx.Err().
func (s *Service) Run(ctx context.Context, handle func(TickReport)) error {
	interval := s.cfg.Server.TickInterval()
	slog.Info("service starting",
		"tick_interval", interval, "max_ops_per_tick", s.cfg.Server.MaxOpsPerTick, "players", len(s.Players()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.security.Run(ctx)
	}()
	defer wg.Wait()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("service stopping: context cancelled", "pending", s.queue.Len())
			return ctx.Err()
		case <-ticker.C:
			rep := s.Tick(ctx)
			if handle != nil {
				handle(rep)
			}
		}
	}
}

// Stats is a point-in-time view of the service and its subsystems.
type Stats struct {
	Players      int                          `json:"players"`
	Ticks        uint64                       `json:"ticks"`
	Submitted    uint64                       `json:"submitted"`
	Succeeded    uint64                       `json:"succeeded"`
	Rejected     uint64                       `json:"rejected"`
	Violations   uint64                       `json:"security_violations"`
	Pending      int                          `json:"pending"`
	Security     security.Metrics             `json:"security"`
	Rules        rules.CoordinatorStats       `json:"rules"`
	Bus          eventbus.Stats               `json:"bus"`
	Replication  map[string]replication.Stats `json:"replication"`
	Transactions map[string]transaction.Stats `json:"transactions"`
}

// Stats collects counters from every subsystem.
func (s *Service) Stats() Stats {
	ps := s.sortedPlayers()
	out := Stats{
		Players:      len(ps),
		Ticks:        s.ticks.Load(),
		Submitted:    s.submitted.Load(),
		Succeeded:    s.succeeded.Load(),
		Rejected:     s.rejected.Load(),
		Violations:   s.violated.Load(),
		Pending:      s.queue.Len(),
		Security:     s.security.Metrics(),
		Rules:        s.rules.Stats(),
		Bus:          s.bus.Stats(),
		Replication:  make(map[string]replication.Stats, len(ps)),
		Transactions: make(map[string]transaction.Stats, len(ps)),
	}
	for _, p := range ps {
		out.Replication[p.id] = p.repl.Stats()
		out.Transactions[p.id] = p.tx.Stats()
	}
	return out
}
