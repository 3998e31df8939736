package bus

import "github.com/sarchlab/akita/v4/sim"

// Hook positions invoked by the arbiter. The hook context Item is always the
// *Transaction.
var (
	// HookPosArbitrated fires when a transaction wins arbitration.
	HookPosArbitrated = &sim.HookPos{Name: "BusArbitrated"}

	// HookPosSnoop fires once per snooped agent. Detail is a SnoopEvent.
	HookPosSnoop = &sim.HookPos{Name: "BusSnoop"}

	// HookPosResolved fires after the data source is decided.
	HookPosResolved = &sim.HookPos{Name: "BusResolved"}

	// HookPosDelivered fires after the requester installed the block.
	HookPosDelivered = &sim.HookPos{Name: "BusDelivered"}

	// HookPosFailed fires when a transaction completes with an error. Detail
	// is the error.
	HookPosFailed = &sim.HookPos{Name: "BusFailed"}

	// HookPosAnomaly fires when more than one agent reports a Modified copy
	// of the same block. Detail is an AnomalyEvent.
	HookPosAnomaly = &sim.HookPos{Name: "BusProtocolAnomaly"}
)

// SnoopEvent is the hook detail of HookPosSnoop.
type SnoopEvent struct {
	Agent  int
	Result SnoopResult
}

// AnomalyEvent is the hook detail of HookPosAnomaly.
type AnomalyEvent struct {
	Address   uint64
	Agents    []int
	Winner    int
	Requester int
}
