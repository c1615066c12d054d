package rtp

import (
	"reflect"
	"testing"
)

func TestParseComposeRoundTrip(t *testing.T) {
	cases := []Packet{
		{
			Version:        2,
			Marker:         true,
			PayloadType:    96,
			SequenceNumber: 1234,
			Timestamp:      90000,
			SSRC:           0xDEADBEEF,
			Payload:        []byte{1, 2, 3, 4, 5},
		},
		{
			Version:        2,
			PayloadType:    97,
			SequenceNumber: 1,
			Timestamp:      1,
			SSRC:           1,
			CSRC:           []uint32{10, 20, 30},
			Payload:        []byte{0xAA},
		},
		{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 5,
			Timestamp:      5,
			SSRC:           5,
			HasExtension:   true,
			Ext:            &Extension{ProfileID: 0xBEDE, Data: []byte{1, 2, 3, 4}},
			Payload:        []byte{9, 9},
		},
		{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 7,
			Timestamp:      7,
			SSRC:           7,
			Padding:        true,
			PadLength:      4,
			Payload:        []byte{1, 2},
		},
	}
	for i, p := range cases {
		wire := Compose(p)
		got, err := Parse(wire)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Fatalf("case %d: got %+v, want %+v", i, got, p)
		}
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := Parse(make([]byte, 8)); err != ErrTooShort {
		t.Fatalf("got %v, want ErrTooShort", err)
	}
}

func TestParseBadVersion(t *testing.T) {
	data := make([]byte, 12)
	data[0] = 1 << 6
	if _, err := Parse(data); err != ErrBadVersion {
		t.Fatalf("got %v, want ErrBadVersion", err)
	}
}

func TestJitterBufferS5Reordering(t *testing.T) {
	buf := NewJitterBuffer(8)
	seqs := []uint16{1000, 1002, 1001, 1003}
	for _, s := range seqs {
		if err := buf.Push(Packet{SequenceNumber: s, Payload: []byte{byte(s)}}); err != nil {
			t.Fatal(err)
		}
	}
	want := []uint16{1000, 1001, 1002, 1003}
	for _, w := range want {
		p, ok := buf.Pop()
		if !ok {
			t.Fatalf("expected packet for seq %d", w)
		}
		if p.SequenceNumber != w {
			t.Fatalf("got seq %d, want %d", p.SequenceNumber, w)
		}
	}
}

func TestJitterBufferGapBlocksPop(t *testing.T) {
	buf := NewJitterBuffer(8)
	buf.Push(Packet{SequenceNumber: 5})
	buf.Push(Packet{SequenceNumber: 7})
	p, ok := buf.Pop()
	if !ok || p.SequenceNumber != 5 {
		t.Fatalf("expected seq 5, got %+v ok=%v", p, ok)
	}
	if _, ok := buf.Pop(); ok {
		t.Fatal("expected pop to block on gap at seq 6")
	}
}

func TestJitterBufferOverflow(t *testing.T) {
	buf := NewJitterBuffer(2)
	if err := buf.Push(Packet{SequenceNumber: 1}); err != nil {
		t.Fatal(err)
	}
	if err := buf.Push(Packet{SequenceNumber: 2}); err != nil {
		t.Fatal(err)
	}
	if err := buf.Push(Packet{SequenceNumber: 3}); err != ErrBufferOverflow {
		t.Fatalf("got %v, want ErrBufferOverflow", err)
	}
}

func TestJitterBufferSequenceWrapped(t *testing.T) {
	buf := NewJitterBuffer(8)
	if err := buf.Push(Packet{SequenceNumber: 100}); err != nil {
		t.Fatal(err)
	}
	// current min=100 (<0x4000); a new packet landing >0xC000 looks wrapped.
	if err := buf.Push(Packet{SequenceNumber: 0xC100}); err != ErrSequenceWrapped {
		t.Fatalf("got %v, want ErrSequenceWrapped", err)
	}
}

func TestJitterBufferPropertyOrderingForPermutation(t *testing.T) {
	start := uint16(60000) // exercise wrap-adjacent region
	n := 10
	perm := []int{3, 1, 4, 0, 9, 2, 8, 5, 7, 6}
	buf := NewJitterBuffer(n)
	for _, idx := range perm {
		seq := start + uint16(idx)
		if err := buf.Push(Packet{SequenceNumber: seq}); err != nil {
			t.Fatalf("push %d: %v", seq, err)
		}
	}
	for i := 0; i < n; i++ {
		p, ok := buf.Pop()
		if !ok {
			t.Fatalf("pop %d: expected ok", i)
		}
		want := start + uint16(i)
		if p.SequenceNumber != want {
			t.Fatalf("pop %d: got seq %d, want %d", i, p.SequenceNumber, want)
		}
	}
}
