// Package trace records bus and cache activity through akita hooks.
package trace

import (
	"log"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/cache"
)

// LogHook prints bus transaction phases and cache state transitions.
type LogHook struct {
	sim.LogHookBase
}

// NewLogHook returns a LogHook that writes into logger.
func NewLogHook(logger *log.Logger) *LogHook {
	h := new(LogHook)
	h.Logger = logger
	return h
}

// Func writes one line per hook invocation.
func (h *LogHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case bus.HookPosArbitrated:
		h.Printf("grant     %s", ctx.Item)
	case bus.HookPosSnoop:
		e := ctx.Detail.(bus.SnoopEvent)
		h.Printf("snoop     %s agent=%d modified=%t shared=%t",
			ctx.Item, e.Agent, e.Result.HadModified, e.Result.HadShared)
	case bus.HookPosResolved:
		txn := ctx.Item.(*bus.Transaction)
		h.Printf("resolved  %s fromMemory=%t", txn, txn.ServedFromMemory)
	case bus.HookPosDelivered:
		h.Printf("delivered %s", ctx.Item)
	case bus.HookPosFailed:
		h.Printf("failed    %s: %v", ctx.Item, ctx.Detail)
	case bus.HookPosAnomaly:
		e := ctx.Detail.(bus.AnomalyEvent)
		h.Printf("anomaly   0x%x agents=%v winner=%d", e.Address, e.Agents, e.Winner)
	case cache.HookPosTransition:
		t := ctx.Detail.(cache.Transition)
		h.Printf("cache %d   0x%x %s -> %s", t.Cache, t.Address, t.From, t.To)
	}
}
