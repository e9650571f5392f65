package protocol

import (
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  Packet
	}{
		{
			name: "connect",
			pkt:  Packet{Sequence: 1, Payload: Connect{}},
		},
		{
			name: "connect accept",
			pkt: Packet{
				Sequence: 7,
				Ack:      3,
				AckBits:  0b101,
				Payload: ConnectAccept{
					SessionID: 42,
					PlayerID:  900,
					Color:     Color{R: 10, G: 200, B: 30},
				},
			},
		},
		{
			name: "connect reject",
			pkt:  Packet{Payload: ConnectReject{Reason: RejectServerFull}},
		},
		{
			name: "disconnect",
			pkt:  Packet{Sequence: 99, Ack: 98, Payload: Disconnect{}},
		},
		{
			name: "heartbeat",
			pkt:  Packet{Sequence: 5, Payload: Heartbeat{ClientTime: 1700000000123}},
		},
		{
			name: "heartbeat ack",
			pkt: Packet{
				Sequence: 6,
				Payload:  HeartbeatAck{ClientTime: 1700000000123, ServerTime: 1700000000150},
			},
		},
		{
			name: "input command",
			pkt: Packet{
				Sequence: 1000,
				Ack:      512,
				AckBits:  0xffffffff,
				Payload: InputCommand{
					PlayerID:      3,
					InputSequence: 250,
					DX:            -0.5,
					DY:            1,
					Facing:        FacingLeft,
					TargetTick:    123456,
				},
			},
		},
		{
			name: "snapshot",
			pkt: Packet{
				Sequence: 88,
				Ack:      44,
				Payload: StateSnapshot{
					Tick:       4242,
					ServerTime: 1700000000999,
					Players: []PlayerUpdate{
						{PlayerID: 1, X: -100.25, Y: 30, VX: 160, Facing: FacingRight, LastInput: 77, Color: Color{R: 1, G: 2, B: 3}},
						{PlayerID: 2, X: 12, Y: -1188, VY: -160, Facing: FacingUp, Color: Color{R: 9, G: 8, B: 7}},
					},
				},
			},
		},
		{
			name: "event",
			pkt: Packet{
				Sequence: 2,
				Payload:  Event{Type: EventPlayerJoined, PlayerID: 5, Color: Color{R: 250, G: 0, B: 250}},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.pkt)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(data) > MaxPacketSize {
				t.Fatalf("encoded %d bytes, above the %d byte limit", len(data), MaxPacketSize)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.pkt) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, tc.pkt)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, err := Encode(Packet{Sequence: 1, Payload: Heartbeat{ClientTime: 42}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	truncated := make([]byte, len(valid)-1)
	copy(truncated, valid)

	trailing := append(append([]byte{}, valid...), 0xff)

	badKind := append([]byte{}, valid...)
	badKind[1] = 0xee

	badFacing, err := Encode(Packet{Sequence: 2, Payload: InputCommand{PlayerID: 1, InputSequence: 1}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	badFacing[HeaderSize+20] = 9

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:HeaderSize-1]},
		{"truncated payload", truncated},
		{"trailing bytes", trailing},
		{"unknown kind", badKind},
		{"invalid facing", badFacing},
		{"oversized", make([]byte, MaxPacketSize+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); !errors.Is(err, ErrMalformedPacket) {
				t.Fatalf("Decode(%s) = %v, want ErrMalformedPacket", tc.name, err)
			}
		})
	}
}

func TestDecodeUnknownVersion(t *testing.T) {
	data, err := Encode(Packet{Sequence: 1, Payload: Connect{}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data[0] = Version + 1

	_, err = Decode(data)
	if !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("Decode = %v, want ErrUnknownVersion", err)
	}
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("ErrUnknownVersion should wrap ErrMalformedPacket, got %v", err)
	}
}

func TestEncodeRejectsOversizedSnapshot(t *testing.T) {
	players := make([]PlayerUpdate, MaxSnapshotPlayers+1)
	for i := range players {
		players[i] = PlayerUpdate{PlayerID: uint64(i + 1)}
	}
	_, err := Encode(Packet{Payload: StateSnapshot{Tick: 1, Players: players}})
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("Encode = %v, want ErrMalformedPacket", err)
	}
}

func TestSnapshotCapacityFitsLimit(t *testing.T) {
	players := make([]PlayerUpdate, MaxSnapshotPlayers)
	for i := range players {
		players[i] = PlayerUpdate{PlayerID: uint64(i + 1), X: 1188, Y: -1188}
	}
	data, err := Encode(Packet{Sequence: 1, Payload: StateSnapshot{Tick: 1, Players: players}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) > MaxPacketSize {
		t.Fatalf("full snapshot is %d bytes, above the %d byte limit", len(data), MaxPacketSize)
	}
}

func TestKindReliable(t *testing.T) {
	reliable := map[Kind]bool{
		KindConnect:       true,
		KindConnectAccept: true,
		KindDisconnect:    true,
		KindEvent:         true,
	}
	for kind := KindConnect; kind <= kindMax; kind++ {
		if got, want := kind.Reliable(), reliable[kind]; got != want {
			t.Fatalf("%s.Reliable() = %v, want %v", kind, got, want)
		}
	}
}
