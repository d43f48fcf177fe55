package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(t.TempDir())
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

// readHeaderFields extracts the RIFF size and data size fields from a WAV file.
func readHeaderFields(t *testing.T, path string) (riffSize, dataSize uint32, raw []byte) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(raw) < HeaderSize {
		t.Fatalf("file %s shorter than header: %d bytes", path, len(raw))
	}
	return binary.LittleEndian.Uint32(raw[4:8]), binary.LittleEndian.Uint32(raw[40:44]), raw
}

func TestCloseWritesExactHeader(t *testing.T) {
	b := newTestBuilder(t)
	if _, err := b.Open("s1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	data := bytes.Repeat([]byte{0x01, 0x02}, 1000) // 2000 bytes
	b.WriteChunk("s1", data)

	path, err := b.Close("s1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	riffSize, dataSize, raw := readHeaderFields(t, path)
	if dataSize != 2000 {
		t.Errorf("data size = %d, want 2000", dataSize)
	}
	if riffSize != 2000+36 {
		t.Errorf("riff size = %d, want %d", riffSize, 2000+36)
	}
	if got := len(raw); got != HeaderSize+2000 {
		t.Errorf("file size = %d, want %d", got, HeaderSize+2000)
	}

	// Fixed header fields, byte for byte.
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" || string(raw[12:16]) != "fmt " || string(raw[36:40]) != "data" {
		t.Errorf("header tags wrong: %q %q %q %q", raw[0:4], raw[8:12], raw[12:16], raw[36:40])
	}
	if binary.LittleEndian.Uint32(raw[16:20]) != 16 {
		t.Errorf("fmt chunk size = %d, want 16", binary.LittleEndian.Uint32(raw[16:20]))
	}
	if binary.LittleEndian.Uint16(raw[20:22]) != 1 {
		t.Errorf("audio format = %d, want 1 (PCM)", binary.LittleEndian.Uint16(raw[20:22]))
	}
	if binary.LittleEndian.Uint16(raw[22:24]) != 1 {
		t.Errorf("channels = %d, want 1", binary.LittleEndian.Uint16(raw[22:24]))
	}
	if binary.LittleEndian.Uint32(raw[24:28]) != 16000 {
		t.Errorf("sample rate = %d, want 16000", binary.LittleEndian.Uint32(raw[24:28]))
	}
	if binary.LittleEndian.Uint32(raw[28:32]) != 32000 {
		t.Errorf("byte rate = %d, want 32000", binary.LittleEndian.Uint32(raw[28:32]))
	}
	if binary.LittleEndian.Uint16(raw[32:34]) != 2 {
		t.Errorf("block align = %d, want 2", binary.LittleEndian.Uint16(raw[32:34]))
	}
	if binary.LittleEndian.Uint16(raw[34:36]) != 16 {
		t.Errorf("bits per sample = %d, want 16", binary.LittleEndian.Uint16(raw[34:36]))
	}
}

func TestSnapshotFloor(t *testing.T) {
	b := newTestBuilder(t)
	if _, err := b.Open("s1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// One byte below one second: refused.
	b.WriteChunk("s1", make([]byte, MinSnapshotBytes-1))
	if _, ok, err := b.Snapshot("s1"); err != nil || ok {
		t.Fatalf("Snapshot below floor: ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	// Exactly one second: a valid file.
	b.WriteChunk("s1", make([]byte, 1))
	path, ok, err := b.Snapshot("s1")
	if err != nil || !ok {
		t.Fatalf("Snapshot at floor: ok=%v err=%v", ok, err)
	}
	riffSize, dataSize, _ := readHeaderFields(t, path)
	if dataSize != MinSnapshotBytes {
		t.Errorf("snapshot data size = %d, want %d", dataSize, MinSnapshotBytes)
	}
	if riffSize != MinSnapshotBytes+36 {
		t.Errorf("snapshot riff size = %d, want %d", riffSize, MinSnapshotBytes+36)
	}
}

func TestSnapshotDoesNotDisturbRecording(t *testing.T) {
	b := newTestBuilder(t)
	if _, err := b.Open("s1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.WriteChunk("s1", make([]byte, MinSnapshotBytes))

	snap1, ok, err := b.Snapshot("s1")
	if err != nil || !ok {
		t.Fatalf("first snapshot: ok=%v err=%v", ok, err)
	}

	// Keep writing after the snapshot, then snapshot again.
	b.WriteChunk("s1", make([]byte, 4000))
	snap2, ok, err := b.Snapshot("s1")
	if err != nil || !ok {
		t.Fatalf("second snapshot: ok=%v err=%v", ok, err)
	}
	if snap1 == snap2 {
		t.Errorf("snapshot paths collide: %s", snap1)
	}
	_, dataSize2, _ := readHeaderFields(t, snap2)
	if dataSize2 != MinSnapshotBytes+4000 {
		t.Errorf("second snapshot data size = %d, want %d", dataSize2, MinSnapshotBytes+4000)
	}

	// The recording itself still closes with the full byte count.
	path, err := b.Close("s1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, dataSize, _ := readHeaderFields(t, path)
	if dataSize != MinSnapshotBytes+4000 {
		t.Errorf("final data size = %d, want %d", dataSize, MinSnapshotBytes+4000)
	}
}

func TestWriteChunkAfterCloseIsDropped(t *testing.T) {
	b := newTestBuilder(t)
	if _, err := b.Open("s1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.WriteChunk("s1", make([]byte, 100))
	if _, err := b.Close("s1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Must not panic or error; the late frame is logged and dropped.
	b.WriteChunk("s1", make([]byte, 100))
}

func TestCloseEmptyRecordingFails(t *testing.T) {
	b := newTestBuilder(t)
	state, err := b.Open("s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := b.Close("s1"); !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("Close err = %v, want ErrEmptyRecording", err)
	}
	if _, statErr := os.Stat(state.FilePath); !os.IsNotExist(statErr) {
		t.Errorf("empty recording file not removed: %v", statErr)
	}
}

func TestCancelDiscardsFile(t *testing.T) {
	b := newTestBuilder(t)
	state, err := b.Open("s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.WriteChunk("s1", make([]byte, 5000))
	b.Cancel("s1")

	if _, statErr := os.Stat(state.FilePath); !os.IsNotExist(statErr) {
		t.Errorf("cancelled recording file still exists")
	}
	if _, _, err := b.Snapshot("s1"); !errors.Is(err, ErrNoRecording) {
		t.Errorf("Snapshot after Cancel err = %v, want ErrNoRecording", err)
	}
}

func TestOpenTwiceRejected(t *testing.T) {
	b := newTestBuilder(t)
	if _, err := b.Open("s1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := b.Open("s1"); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open err = %v, want ErrAlreadyOpen", err)
	}
}

func TestAdvanceProcessedMonotonic(t *testing.T) {
	b := newTestBuilder(t)
	if _, err := b.Open("s1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b.WriteChunk("s1", make([]byte, 10*BytesPerSecond)) // 10 s of audio

	if err := b.AdvanceProcessed("s1", 4); err != nil {
		t.Fatalf("AdvanceProcessed: %v", err)
	}
	// Backwards move is ignored.
	if err := b.AdvanceProcessed("s1", 2); err != nil {
		t.Fatalf("AdvanceProcessed: %v", err)
	}
	st, err := b.State("s1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.ProcessedDuration != 4 {
		t.Errorf("watermark = %v, want 4 (must not regress)", st.ProcessedDuration)
	}

	// Advance beyond the written duration is capped.
	if err := b.AdvanceProcessed("s1", 60); err != nil {
		t.Fatalf("AdvanceProcessed: %v", err)
	}
	st, _ = b.State("s1")
	if st.ProcessedDuration != 10 {
		t.Errorf("watermark = %v, want 10 (capped at written duration)", st.ProcessedDuration)
	}
}

func TestRecordingPathUnderDir(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	state, err := b.Open("consult-42")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if want := filepath.Join(dir, "consult-42.wav"); state.FilePath != want {
		t.Errorf("path = %s, want %s", state.FilePath, want)
	}
}
