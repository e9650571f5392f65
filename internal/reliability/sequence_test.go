package reliability

import "testing"

func TestSequenceNewer(t *testing.T) {
	cases := []struct {
		name string
		a, b uint32
		want bool
	}{
		{"equal", 5, 5, false},
		{"successor", 6, 5, true},
		{"predecessor", 5, 6, false},
		{"far ahead", 1 << 20, 1, true},
		{"wrap forward", 2, 0xfffffffe, true},
		{"wrap backward", 0xfffffffe, 2, false},
		{"half space boundary", 0x80000000, 0, true},
		{"just past half space", 0x80000001, 0, false},
	}
	for _, tc := range cases {
		if got := SequenceNewer(tc.a, tc.b); got != tc.want {
			t.Fatalf("%s: SequenceNewer(%d, %d) = %v, want %v", tc.name, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestWindowAdmitsExactlyOnce(t *testing.T) {
	var w Window
	seqs := []uint32{10, 11, 9, 15, 13}
	for _, seq := range seqs {
		if !w.Admit(seq) {
			t.Fatalf("first delivery of %d rejected", seq)
		}
	}
	for _, seq := range seqs {
		if w.Admit(seq) {
			t.Fatalf("duplicate of %d admitted", seq)
		}
	}
	if got := w.Ack(); got != 15 {
		t.Fatalf("Ack = %d, want 15", got)
	}
}

func TestWindowRejectsStale(t *testing.T) {
	var w Window
	w.Admit(100)
	if w.Admit(100 - WindowSize - 1) {
		t.Fatalf("sequence older than the window admitted")
	}
	if !w.Admit(100 - WindowSize) {
		t.Fatalf("oldest in-window sequence rejected")
	}
}

func TestWindowAcrossWrap(t *testing.T) {
	var w Window
	if !w.Admit(0xfffffffe) {
		t.Fatalf("pre-wrap sequence rejected")
	}
	if !w.Admit(3) {
		t.Fatalf("post-wrap sequence rejected")
	}
	if got := w.Ack(); got != 3 {
		t.Fatalf("Ack = %d, want 3", got)
	}
	if !w.Admit(0xffffffff) {
		t.Fatalf("in-window pre-wrap sequence rejected after wrap")
	}
	if w.Admit(0xfffffffe) {
		t.Fatalf("duplicate pre-wrap sequence admitted after wrap")
	}
}

func TestWindowAckBits(t *testing.T) {
	var w Window
	w.Admit(20)
	w.Admit(22)
	w.Admit(19)

	// Relative to ack=22: bit 0 covers 21 (missing), bit 1 covers 20, bit 2
	// covers 19.
	if got, want := w.AckBits(), uint32(0b110); got != want {
		t.Fatalf("AckBits = %b, want %b", got, want)
	}

	for seq, want := range map[uint32]bool{22: true, 21: false, 20: true, 19: true, 18: false} {
		if got := Acks(w.Ack(), w.AckBits(), seq); got != want {
			t.Fatalf("Acks(22, %b, %d) = %v, want %v", w.AckBits(), seq, got, want)
		}
	}
}

func TestAcksOutsideWindow(t *testing.T) {
	if Acks(100, 0xffffffff, 100-WindowSize-1) {
		t.Fatalf("sequence beyond the window reported acknowledged")
	}
	if Acks(100, 0, 101) {
		t.Fatalf("sequence newer than ack reported acknowledged")
	}
}
