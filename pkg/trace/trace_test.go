package trace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestFrameEventTruncation(t *testing.T) {
	big := make([]byte, MaxFrameDataSize+100)
	e := NewFrameEvent("conn-1", DirectionIn, big)

	if e.Frame.Size != len(big) {
		t.Errorf("Size = %d, want %d", e.Frame.Size, len(big))
	}
	if len(e.Frame.Data) != MaxFrameDataSize {
		t.Errorf("Data length = %d, want %d", len(e.Frame.Data), MaxFrameDataSize)
	}
	if !e.Frame.Truncated {
		t.Error("Truncated not set")
	}
}

func TestMemoryLogger(t *testing.T) {
	m := NewMemoryLogger(3)
	for i := 0; i < 5; i++ {
		m.Log(NewStateChangeEvent("c", "", "CONNECTING", ""))
	}
	if got := len(m.Events()); got != 3 {
		t.Errorf("retained %d events, want 3", got)
	}
}

func TestMultiLogger(t *testing.T) {
	a := NewMemoryLogger(10)
	b := NewMemoryLogger(10)
	ml := NewMultiLogger(a, nil, b)

	ml.Log(NewErrorEvent("c", LayerProtocol, "decode", errors.New("boom")))

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Error("event not fanned out to all sinks")
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Log(NewFrameEvent("conn-1", DirectionOut, []byte{0xc0, 0x00}))
	l.Log(NewStateChangeEvent("conn-1", "CONNECTING", "HANDSHAKING", "transport open"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close twice is fine, and logging after close is a no-op.
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	l.Log(NewStateChangeEvent("conn-1", "HANDSHAKING", "SUBSCRIBING", ""))

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := cbor.NewDecoder(f)
	var events []Event
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}

	if len(events) != 2 {
		t.Fatalf("decoded %d events, want 2", len(events))
	}
	if events[0].Frame == nil || events[0].Frame.Size != 2 {
		t.Error("frame event did not survive the file round trip")
	}
	if events[1].StateChange == nil || events[1].StateChange.NewState != "HANDSHAKING" {
		t.Error("state change event did not survive the file round trip")
	}
}
