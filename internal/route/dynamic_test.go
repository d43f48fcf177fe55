package route

import (
	"context"
	"testing"

	"github.com/remoteree/patient-note-taker-asean/pkg/asr"
)

func TestDynamicDirectorySwapChangesDecisions(t *testing.T) {
	dir := NewDynamicDirectory(StaticDirectory{
		"en": {Provider: asr.KindDeepgram, Enabled: true},
	})
	r := New(dir)

	d, err := r.Select(context.Background(), "en")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Provider != asr.KindDeepgram {
		t.Fatalf("before swap: provider = %s, want deepgram", d.Provider)
	}

	dir.Swap(StaticDirectory{
		"en": {Provider: asr.KindWhisper, Enabled: true},
	})

	d, err = r.Select(context.Background(), "en")
	if err != nil {
		t.Fatalf("Select after swap: %v", err)
	}
	if d.Provider != asr.KindWhisper || d.Mode != ModeBatch {
		t.Errorf("after swap: decision = %+v, want batch/whisper", d)
	}
}

func TestDynamicDirectoryNilTables(t *testing.T) {
	dir := NewDynamicDirectory(nil)

	if _, ok, err := dir.Lookup(context.Background(), "en"); err != nil || ok {
		t.Errorf("empty lookup: ok=%v err=%v, want miss", ok, err)
	}

	dir.Swap(nil)
	if _, ok, err := dir.Lookup(context.Background(), "en"); err != nil || ok {
		t.Errorf("lookup after nil swap: ok=%v err=%v, want miss", ok, err)
	}
}

func TestDynamicDirectorySwapRemovesLanguage(t *testing.T) {
	dir := NewDynamicDirectory(StaticDirectory{
		"th": {Provider: asr.KindWhisper, Enabled: true},
	})

	dir.Swap(StaticDirectory{})

	if _, ok, _ := dir.Lookup(context.Background(), "th"); ok {
		t.Error("lookup after removal should miss")
	}
}
