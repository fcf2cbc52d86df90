package inputinjector

import (
	"testing"

	"github.com/parevo/entangle/internal/protocol"
)

func TestProcessMouseMoveAbsolute(t *testing.T) {
	stub := NewStub()
	p := NewProcessor(stub)

	err := p.ProcessPacket(protocol.InputPacket{
		Sequence: 1,
		Event:    protocol.InputEvent{Kind: protocol.EventMouseMove, X: 100, Y: 200},
	})
	if err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	x, y := stub.MousePosition()
	if x != 100 || y != 200 {
		t.Fatalf("position = (%v, %v), want (100, 200)", x, y)
	}
}

func TestProcessMouseMoveNormalized(t *testing.T) {
	stub := NewStub()
	stub.ScreenWidth, stub.ScreenHeight = 1000, 500
	p := NewProcessor(stub)

	err := p.ProcessPacket(protocol.InputPacket{
		Sequence: 1,
		Event:    protocol.InputEvent{Kind: protocol.EventMouseMove, X: 0.5, Y: 0.2, Normalized: true},
	})
	if err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	x, y := stub.MousePosition()
	if x != 500 || y != 100 {
		t.Fatalf("position = (%v, %v), want (500, 100)", x, y)
	}
}

func TestProcessMouseButtonMovesThenClicks(t *testing.T) {
	stub := NewStub()
	p := NewProcessor(stub)

	err := p.ProcessPacket(protocol.InputPacket{
		Sequence: 1,
		Event: protocol.InputEvent{
			Kind: protocol.EventMouseButton, X: 10, Y: 20,
			Button: protocol.MouseRight, ButtonState: protocol.KeyPressed,
		},
	})
	if err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	if len(stub.Calls) != 2 || stub.Calls[0].Method != "MoveMouse" || stub.Calls[1].Method != "MouseDown" {
		t.Fatalf("calls = %+v, want [MoveMouse, MouseDown]", stub.Calls)
	}
	if stub.Calls[1].Button != protocol.MouseRight {
		t.Fatalf("button = %v, want MouseRight", stub.Calls[1].Button)
	}
}

func TestProcessKeyDispatchesDownAndUp(t *testing.T) {
	stub := NewStub()
	p := NewProcessor(stub)

	if err := p.ProcessPacket(protocol.InputPacket{Sequence: 1, Event: protocol.InputEvent{
		Kind: protocol.EventKey, KeyCode: protocol.KeyA, State: protocol.KeyPressed,
	}}); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	if err := p.ProcessPacket(protocol.InputPacket{Sequence: 2, Event: protocol.InputEvent{
		Kind: protocol.EventKey, KeyCode: protocol.KeyA, State: protocol.KeyReleased,
	}}); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}

	if len(stub.Calls) != 2 || stub.Calls[0].Method != "KeyDown" || stub.Calls[1].Method != "KeyUp" {
		t.Fatalf("calls = %+v, want [KeyDown, KeyUp]", stub.Calls)
	}
}

func TestProcessTextInput(t *testing.T) {
	stub := NewStub()
	p := NewProcessor(stub)

	if err := p.ProcessPacket(protocol.InputPacket{Sequence: 1, Event: protocol.InputEvent{
		Kind: protocol.EventTextInput, Text: "hello",
	}}); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	if len(stub.Calls) != 1 || stub.Calls[0].Text != "hello" {
		t.Fatalf("calls = %+v, want [TypeText(hello)]", stub.Calls)
	}
}

func TestProcessScroll(t *testing.T) {
	stub := NewStub()
	p := NewProcessor(stub)

	if err := p.ProcessPacket(protocol.InputPacket{Sequence: 1, Event: protocol.InputEvent{
		Kind: protocol.EventMouseScroll, DeltaX: 1, DeltaY: -2,
	}}); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	if len(stub.Calls) != 1 || stub.Calls[0].X != 1 || stub.Calls[0].Y != -2 {
		t.Fatalf("calls = %+v, want [Scroll(1, -2)]", stub.Calls)
	}
}

func TestOutOfOrderPacketsAreStillProcessed(t *testing.T) {
	stub := NewStub()
	p := NewProcessor(stub)

	if err := p.ProcessPacket(protocol.InputPacket{Sequence: 5, Event: protocol.InputEvent{
		Kind: protocol.EventTextInput, Text: "a",
	}}); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	// Lower sequence than the one already seen: must still dispatch.
	if err := p.ProcessPacket(protocol.InputPacket{Sequence: 3, Event: protocol.InputEvent{
		Kind: protocol.EventTextInput, Text: "b",
	}}); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}

	if len(stub.Calls) != 2 || stub.Calls[1].Text != "b" {
		t.Fatalf("calls = %+v, want both packets dispatched", stub.Calls)
	}
}
