package node

import "github.com/penguintech/marchproxy/proxy-medianode/internal/spa"

// PortTable is the per-direction ordered index of port ids the underlying
// element currently advertises, plus derived free-port allocation (§4.1).
//
// Invariant I2: input port ids occupy [0, maxInput); output port ids
// occupy [maxInput, maxInput+maxOutput). direction_of is derived purely
// from that split, never stored per-port.
type PortTable struct {
	nInput, maxInput   uint32
	nOutput, maxOutput uint32
	inputIDs           []uint32 // sorted ascending, length nInput
	outputIDs          []uint32 // sorted ascending, length nOutput
}

// Refresh queries the element for current port counts and ids (§4.1
// refresh()).
func (t *PortTable) Refresh(el spa.Element) {
	nIn, maxIn, nOut, maxOut := el.GetNPorts()
	inIDs, outIDs := el.GetPortIDs(maxIn, maxOut)
	t.nInput, t.maxInput = nIn, maxIn
	t.nOutput, t.maxOutput = nOut, maxOut
	t.inputIDs = append(t.inputIDs[:0], inIDs...)
	t.outputIDs = append(t.outputIDs[:0], outIDs...)
}

// DirectionOf returns the direction a port id belongs to, derived from
// whether it falls below maxInput (I2/P1).
func (t *PortTable) DirectionOf(id uint32) spa.Direction {
	if id < t.maxInput {
		return spa.DirectionInput
	}
	return spa.DirectionOutput
}

// Counts returns (nInput, maxInput, nOutput, maxOutput).
func (t *PortTable) Counts() (nInput, maxInput, nOutput, maxOutput uint32) {
	return t.nInput, t.maxInput, t.nOutput, t.maxOutput
}

// FreePort returns the smallest unused id within direction's range, or
// spa.InvalidPortID if the direction is saturated (§4.1 free_port).
func (t *PortTable) FreePort(direction spa.Direction) uint32 {
	var ids []uint32
	var n, max, base uint32
	if direction == spa.DirectionInput {
		ids, n, max, base = t.inputIDs, t.nInput, t.maxInput, 0
	} else {
		ids, n, max, base = t.outputIDs, t.nOutput, t.maxOutput, t.maxInput
	}
	if n == max {
		return spa.InvalidPortID
	}
	free := base
	for _, id := range ids {
		if free < id {
			break
		}
		free = id + 1
	}
	if free >= base+max {
		return spa.InvalidPortID
	}
	return free
}

// FirstPort returns the first live port id in direction, and whether one
// exists — used by Link's fallback-to-existing-port rule (§4.8).
func (t *PortTable) FirstPort(direction spa.Direction) (uint32, bool) {
	if direction == spa.DirectionInput {
		if t.nInput == 0 {
			return 0, false
		}
		return t.inputIDs[0], true
	}
	if t.nOutput == 0 {
		return 0, false
	}
	return t.outputIDs[0], true
}
