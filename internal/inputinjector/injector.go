// Package inputinjector defines the input-injection capability interface
// the Host's input processor drives. Platform back-ends (CGEvent,
// SendInput) are out of scope; this package ships only the interface and a
// deterministic stub that records calls for testing.
package inputinjector

import (
	"sync"

	"github.com/parevo/entangle/internal/protocol"
)

// Injector is the capability interface a platform input back-end
// implements.
type Injector interface {
	HasPermission() bool
	RequestPermission() bool

	MoveMouse(x, y float64) error
	MouseDown(button protocol.MouseButton) error
	MouseUp(button protocol.MouseButton) error
	Scroll(dx, dy float64) error
	KeyDown(code protocol.VirtualKeyCode) error
	KeyUp(code protocol.VirtualKeyCode) error
	TypeText(text string) error

	MousePosition() (x, y float64)
	ScreenSize() (width, height uint32)
}

// Call records one dispatched injector method invocation, for assertions
// in tests built on Stub.
type Call struct {
	Method string
	X, Y   float64
	Button protocol.MouseButton
	Code   protocol.VirtualKeyCode
	Text   string
}

// Stub is a deterministic Injector that performs no platform calls: it
// tracks a virtual cursor position over a fixed screen size and appends
// every dispatched call to Calls.
type Stub struct {
	mu sync.Mutex

	ScreenWidth, ScreenHeight uint32
	HasPerm                   bool

	x, y  float64
	Calls []Call
}

// NewStub constructs a Stub with a 1920x1080 virtual screen and permission
// already granted (the common case; tests that need the permission-gated
// path can flip HasPerm directly).
func NewStub() *Stub {
	return &Stub{ScreenWidth: 1920, ScreenHeight: 1080, HasPerm: true}
}

func (s *Stub) HasPermission() bool { return s.HasPerm }

func (s *Stub) RequestPermission() bool {
	s.HasPerm = true
	return true
}

func (s *Stub) MoveMouse(x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x, s.y = x, y
	s.Calls = append(s.Calls, Call{Method: "MoveMouse", X: x, Y: y})
	return nil
}

func (s *Stub) MouseDown(button protocol.MouseButton) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "MouseDown", Button: button})
	return nil
}

func (s *Stub) MouseUp(button protocol.MouseButton) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "MouseUp", Button: button})
	return nil
}

func (s *Stub) Scroll(dx, dy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "Scroll", X: dx, Y: dy})
	return nil
}

func (s *Stub) KeyDown(code protocol.VirtualKeyCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "KeyDown", Code: code})
	return nil
}

func (s *Stub) KeyUp(code protocol.VirtualKeyCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "KeyUp", Code: code})
	return nil
}

func (s *Stub) TypeText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "TypeText", Text: text})
	return nil
}

func (s *Stub) MousePosition() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

func (s *Stub) ScreenSize() (uint32, uint32) {
	return s.ScreenWidth, s.ScreenHeight
}
