package protocol

// MouseButton identifies a physical mouse button.
type MouseButton uint8

const (
	MouseLeft MouseButton = iota
	MouseRight
	MouseMiddle
	MouseBack
	MouseForward
)

// KeyState is a key or button's press/release transition.
type KeyState uint8

const (
	KeyPressed KeyState = iota
	KeyReleased
)

// KeyModifiers is out-of-band chord state owned by the sender; the
// Host-side injector does not track modifier state itself (§4.9).
type KeyModifiers struct {
	Shift    bool
	Ctrl     bool
	Alt      bool
	Meta     bool
	CapsLock bool
	NumLock  bool
}

// VirtualKeyCode is a cross-platform virtual key code (USB HID usage page
// values, matching the original source's table).
type VirtualKeyCode uint16

const (
	KeyA VirtualKeyCode = 0x0004 + iota
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	Key0
)

const (
	KeyEnter     VirtualKeyCode = 0x0028
	KeyEscape    VirtualKeyCode = 0x0029
	KeyBackspace VirtualKeyCode = 0x002A
	KeyTab       VirtualKeyCode = 0x002B
	KeySpace     VirtualKeyCode = 0x002C
	KeyCapsLock  VirtualKeyCode = 0x0039
	KeyF1        VirtualKeyCode = 0x003A
	KeyF2        VirtualKeyCode = 0x003B
	KeyF3        VirtualKeyCode = 0x003C
	KeyF4        VirtualKeyCode = 0x003D
	KeyF5        VirtualKeyCode = 0x003E
	KeyF6        VirtualKeyCode = 0x003F
	KeyF7        VirtualKeyCode = 0x0040
	KeyF8        VirtualKeyCode = 0x0041
	KeyF9        VirtualKeyCode = 0x0042
	KeyF10       VirtualKeyCode = 0x0043
	KeyF11       VirtualKeyCode = 0x0044
	KeyF12       VirtualKeyCode = 0x0045
	KeyRight     VirtualKeyCode = 0x004F
	KeyLeft      VirtualKeyCode = 0x0050
	KeyDown      VirtualKeyCode = 0x0051
	KeyUp        VirtualKeyCode = 0x0052
	KeyControl   VirtualKeyCode = 0x00E0
	KeyShift     VirtualKeyCode = 0x00E1
	KeyAlt       VirtualKeyCode = 0x00E2
	KeyMeta      VirtualKeyCode = 0x00E3
	KeyUnknown   VirtualKeyCode = 0xFFFF
)

// InputEventKind discriminates the InputEvent tagged union.
type InputEventKind uint8

const (
	EventMouseMove InputEventKind = iota
	EventMouseButton
	EventMouseScroll
	EventKey
	EventTextInput
)

// InputEvent is a tagged union of synthetic input; only the fields relevant
// to Kind are meaningful.
type InputEvent struct {
	Kind InputEventKind

	// MouseMove
	X, Y       float64
	Normalized bool

	// MouseButton (reuses X, Y above)
	Button      MouseButton
	ButtonState KeyState

	// MouseScroll
	DeltaX, DeltaY float64
	Precise        bool

	// Key
	KeyCode   VirtualKeyCode
	State     KeyState
	Modifiers KeyModifiers

	// TextInput
	Text string
}

// InputPacket carries one InputEvent with ordering and timing metadata.
type InputPacket struct {
	Sequence    uint64
	TimestampUs uint64
	Event       InputEvent
}
