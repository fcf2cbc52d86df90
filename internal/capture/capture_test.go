package capture

import "testing"

func TestStubStartStop(t *testing.T) {
	s := NewStub(640, 480)
	if s.IsRunning() {
		t.Fatal("should not be running before Start")
	}
	if err := s.Start(CaptureConfig{TargetFPS: 30, DirtyRects: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("should be running after Start")
	}
	if err := s.Start(CaptureConfig{}); err != ErrAlreadyStarted {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("should not be running after Stop")
	}
}

func TestStubCaptureFrameRequiresStart(t *testing.T) {
	s := NewStub(640, 480)
	if _, err := s.CaptureFrame(); err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestStubCaptureFrameSequencesAndDirtyRects(t *testing.T) {
	s := NewStub(100, 50)
	if err := s.Start(CaptureConfig{TargetFPS: 30, DirtyRects: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f0, err := s.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	f1, err := s.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}

	if f0.Sequence != 0 || f1.Sequence != 1 {
		t.Fatalf("sequences = %d, %d, want 0, 1", f0.Sequence, f1.Sequence)
	}
	if len(f0.DirtyRects) == 0 {
		t.Fatal("even-sequence frame should carry a dirty rect")
	}
	if len(f1.DirtyRects) != 0 {
		t.Fatal("odd-sequence frame should carry no dirty rect")
	}
	if f0.DirtyFraction() != 1.0 {
		t.Fatalf("DirtyFraction = %v, want 1.0", f0.DirtyFraction())
	}
	if f1.DirtyFraction() != 0.0 {
		t.Fatalf("DirtyFraction = %v, want 0.0", f1.DirtyFraction())
	}
	if len(f0.Data) != f0.Stride*f0.Height {
		t.Fatalf("data length = %d, want %d", len(f0.Data), f0.Stride*f0.Height)
	}

	stats := s.Stats()
	if stats.FramesCaptured != 2 {
		t.Fatalf("FramesCaptured = %d, want 2", stats.FramesCaptured)
	}
}

func TestStubDisplays(t *testing.T) {
	s := NewStub(1920, 1080)
	displays, err := s.Displays()
	if err != nil {
		t.Fatalf("Displays: %v", err)
	}
	if len(displays) != 1 || !displays[0].IsPrimary || displays[0].Width != 1920 {
		t.Fatalf("displays = %+v", displays)
	}
}
