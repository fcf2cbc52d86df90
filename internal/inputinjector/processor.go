package inputinjector

import (
	"sync/atomic"

	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/protocol"
)

var log = logging.L("input-processor")

// Processor dispatches received InputPackets to an Injector. Ordering is a
// weaker invariant than video (spec section 4.9): out-of-order packets are
// logged but still processed rather than dropped.
type Processor struct {
	injector     Injector
	lastSequence atomic.Uint64
	seenFirst    atomic.Bool
}

// NewProcessor wraps injector for packet dispatch.
func NewProcessor(injector Injector) *Processor {
	return &Processor{injector: injector}
}

// ProcessPacket dispatches one InputPacket's event to the injector.
func (p *Processor) ProcessPacket(pkt protocol.InputPacket) error {
	if p.seenFirst.Load() {
		last := p.lastSequence.Load()
		if pkt.Sequence <= last {
			log.Warn("out-of-order input packet, processing anyway",
				"sequence", pkt.Sequence, "last_sequence", last)
		}
	}
	p.lastSequence.Store(pkt.Sequence)
	p.seenFirst.Store(true)

	return p.dispatch(pkt.Event)
}

func (p *Processor) dispatch(ev protocol.InputEvent) error {
	switch ev.Kind {
	case protocol.EventMouseMove:
		x, y := ev.X, ev.Y
		if ev.Normalized {
			w, h := p.injector.ScreenSize()
			x *= float64(w)
			y *= float64(h)
		}
		return p.injector.MoveMouse(x, y)

	case protocol.EventMouseButton:
		x, y := ev.X, ev.Y
		if ev.Normalized {
			w, h := p.injector.ScreenSize()
			x *= float64(w)
			y *= float64(h)
		}
		if err := p.injector.MoveMouse(x, y); err != nil {
			return err
		}
		if ev.ButtonState == protocol.KeyPressed {
			return p.injector.MouseDown(ev.Button)
		}
		return p.injector.MouseUp(ev.Button)

	case protocol.EventMouseScroll:
		return p.injector.Scroll(ev.DeltaX, ev.DeltaY)

	case protocol.EventKey:
		if ev.State == protocol.KeyPressed {
			return p.injector.KeyDown(ev.KeyCode)
		}
		return p.injector.KeyUp(ev.KeyCode)

	case protocol.EventTextInput:
		return p.injector.TypeText(ev.Text)

	default:
		return nil
	}
}
