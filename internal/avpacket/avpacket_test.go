package avpacket

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	p := New([]byte{1, 2, 3})
	if p.PTS != nil || p.DTS != nil {
		t.Fatal("expected nil PTS/DTS on a new packet")
	}
	if p.StreamIndex != 0 || p.IsKey || p.Duration != nil {
		t.Fatalf("unexpected non-zero defaults: %+v", p)
	}
}

func TestBuilderChain(t *testing.T) {
	d := 40 * time.Millisecond
	p := New([]byte{0xAA}).
		WithPTS(90000).
		WithDTS(89910).
		WithStreamIndex(1).
		WithKeyFlag(true).
		WithDuration(d)

	if p.PTS == nil || *p.PTS != 90000 {
		t.Fatalf("pts = %v", p.PTS)
	}
	if p.DTS == nil || *p.DTS != 89910 {
		t.Fatalf("dts = %v", p.DTS)
	}
	if p.StreamIndex != 1 {
		t.Fatalf("stream index = %d", p.StreamIndex)
	}
	if !p.IsKey {
		t.Fatal("expected key flag set")
	}
	if p.Duration == nil || *p.Duration != d {
		t.Fatalf("duration = %v", p.Duration)
	}
}

func TestBuilderChainDoesNotMutateOriginal(t *testing.T) {
	base := New([]byte{1})
	_ = base.WithPTS(1)
	if base.PTS != nil {
		t.Fatal("value-receiver builder must not mutate the original")
	}
}
