package node

import "github.com/penguintech/marchproxy/proxy-medianode/internal/spa"

// clockScaleIdentity packs a 1/1 playback rate as numerator<<16 |
// denominator, used whenever no richer clock capability drives the scale.
const clockScaleIdentity = uint32(1<<16) | 1

// clockBridge computes CLOCK_UPDATE commands (§4.5). It keeps just enough
// state to make monotonic_time non-decreasing across calls (§8 P7); it does
// not own the clock capability itself, which belongs to whichever element
// (or inherited peer) is currently attached to the node.
type clockBridge struct {
	lastMonotonic int64
}

// compute builds the ClockUpdate command for entering Running or for a
// RequestClockUpdate event. When clk is present its rate/ticks/monotonic
// time are used and the Live flag is set; otherwise a synthetic identity
// baseline is sent with no Live flag.
func (c *clockBridge) compute(clk spa.Clock, ok bool) spa.Command {
	cu := spa.ClockUpdate{
		ChangeMask: spa.ClockUpdateChangeMask,
		State:      spa.NodeStateStreaming,
		Scale:      clockScaleIdentity,
	}
	if ok {
		rate, ticks, mono := clk.GetTime()
		if mono < c.lastMonotonic {
			mono = c.lastMonotonic
		}
		c.lastMonotonic = mono
		cu.Rate = rate
		cu.Ticks = ticks
		cu.MonotonicTime = mono
		cu.Flags = spa.ClockUpdateFlagLive
	} else {
		cu.Rate = 1
		cu.Ticks = 0
		cu.MonotonicTime = 0
	}
	return spa.Command{Type: spa.CommandClockUpdate, ClockUpdate: cu}
}
