package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

var be = binary.BigEndian

// Encode serializes a packet into a single datagram. It fails when the
// payload is missing or the encoded size would exceed MaxPacketSize.
func Encode(p Packet) ([]byte, error) {
	if p.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedPacket)
	}

	buf := make([]byte, HeaderSize, HeaderSize+64)
	buf[0] = Version
	buf[1] = byte(p.Payload.kind())
	be.PutUint32(buf[2:6], p.Sequence)
	be.PutUint32(buf[6:10], p.Ack)
	be.PutUint32(buf[10:14], p.AckBits)

	buf, err := appendPayload(buf, p.Payload)
	if err != nil {
		return nil, err
	}
	if len(buf) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %s packet is %d bytes, limit %d",
			ErrMalformedPacket, p.Payload.kind(), len(buf), MaxPacketSize)
	}
	return buf, nil
}

// Decode parses a datagram. Short input, an unrecognized version, an unknown
// kind, or a payload inconsistent with its kind all yield ErrMalformedPacket
// and no partial result.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d",
			ErrMalformedPacket, len(data), HeaderSize)
	}
	if len(data) > MaxPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, limit %d",
			ErrMalformedPacket, len(data), MaxPacketSize)
	}
	if data[0] != Version {
		return Packet{}, fmt.Errorf("%w %d", ErrUnknownVersion, data[0])
	}
	kind := Kind(data[1])
	if kind < KindConnect || kind > kindMax {
		return Packet{}, fmt.Errorf("%w: unknown kind %d", ErrMalformedPacket, data[1])
	}

	p := Packet{
		Sequence: be.Uint32(data[2:6]),
		Ack:      be.Uint32(data[6:10]),
		AckBits:  be.Uint32(data[10:14]),
	}

	payload, err := decodePayload(kind, data[HeaderSize:])
	if err != nil {
		return Packet{}, err
	}
	p.Payload = payload
	return p, nil
}

func appendPayload(buf []byte, payload Payload) ([]byte, error) {
	switch v := payload.(type) {
	case Connect:
		return buf, nil
	case ConnectAccept:
		buf = be.AppendUint32(buf, v.SessionID)
		buf = be.AppendUint64(buf, v.PlayerID)
		return append(buf, v.Color.R, v.Color.G, v.Color.B), nil
	case ConnectReject:
		return append(buf, byte(v.Reason)), nil
	case Disconnect:
		return buf, nil
	case Heartbeat:
		return be.AppendUint64(buf, uint64(v.ClientTime)), nil
	case HeartbeatAck:
		buf = be.AppendUint64(buf, uint64(v.ClientTime))
		return be.AppendUint64(buf, uint64(v.ServerTime)), nil
	case InputCommand:
		buf = be.AppendUint64(buf, v.PlayerID)
		buf = be.AppendUint32(buf, v.InputSequence)
		buf = be.AppendUint32(buf, math.Float32bits(v.DX))
		buf = be.AppendUint32(buf, math.Float32bits(v.DY))
		buf = append(buf, byte(v.Facing))
		return be.AppendUint64(buf, v.TargetTick), nil
	case StateSnapshot:
		if len(v.Players) > MaxSnapshotPlayers {
			return nil, fmt.Errorf("%w: snapshot holds %d players, limit %d",
				ErrMalformedPacket, len(v.Players), MaxSnapshotPlayers)
		}
		buf = be.AppendUint64(buf, v.Tick)
		buf = be.AppendUint64(buf, uint64(v.ServerTime))
		buf = append(buf, byte(len(v.Players)))
		for _, pl := range v.Players {
			buf = be.AppendUint64(buf, pl.PlayerID)
			buf = be.AppendUint32(buf, math.Float32bits(pl.X))
			buf = be.AppendUint32(buf, math.Float32bits(pl.Y))
			buf = be.AppendUint32(buf, math.Float32bits(pl.VX))
			buf = be.AppendUint32(buf, math.Float32bits(pl.VY))
			buf = append(buf, byte(pl.Facing))
			buf = be.AppendUint32(buf, pl.LastInput)
			buf = append(buf, pl.Color.R, pl.Color.G, pl.Color.B)
		}
		return buf, nil
	case Event:
		buf = append(buf, byte(v.Type))
		buf = be.AppendUint64(buf, v.PlayerID)
		return append(buf, v.Color.R, v.Color.G, v.Color.B), nil
	default:
		return nil, fmt.Errorf("%w: unencodable payload %T", ErrMalformedPacket, payload)
	}
}

func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindConnect:
		if len(data) != 0 {
			return nil, trailing(kind)
		}
		return Connect{}, nil
	case KindConnectAccept:
		if len(data) != 4+8+3 {
			return nil, badLen(kind, len(data))
		}
		return ConnectAccept{
			SessionID: be.Uint32(data[0:4]),
			PlayerID:  be.Uint64(data[4:12]),
			Color:     Color{R: data[12], G: data[13], B: data[14]},
		}, nil
	case KindConnectReject:
		if len(data) != 1 {
			return nil, badLen(kind, len(data))
		}
		reason := RejectReason(data[0])
		if reason != RejectVersionMismatch && reason != RejectServerFull {
			return nil, fmt.Errorf("%w: unknown reject reason %d", ErrMalformedPacket, data[0])
		}
		return ConnectReject{Reason: reason}, nil
	case KindDisconnect:
		if len(data) != 0 {
			return nil, trailing(kind)
		}
		return Disconnect{}, nil
	case KindHeartbeat:
		if len(data) != 8 {
			return nil, badLen(kind, len(data))
		}
		return Heartbeat{ClientTime: int64(be.Uint64(data))}, nil
	case KindHeartbeatAck:
		if len(data) != 16 {
			return nil, badLen(kind, len(data))
		}
		return HeartbeatAck{
			ClientTime: int64(be.Uint64(data[0:8])),
			ServerTime: int64(be.Uint64(data[8:16])),
		}, nil
	case KindInputCommand:
		if len(data) != 8+4+4+4+1+8 {
			return nil, badLen(kind, len(data))
		}
		facing := Facing(data[20])
		if facing > FacingRight {
			return nil, fmt.Errorf("%w: unknown facing %d", ErrMalformedPacket, data[20])
		}
		return InputCommand{
			PlayerID:      be.Uint64(data[0:8]),
			InputSequence: be.Uint32(data[8:12]),
			DX:            math.Float32frombits(be.Uint32(data[12:16])),
			DY:            math.Float32frombits(be.Uint32(data[16:20])),
			Facing:        facing,
			TargetTick:    be.Uint64(data[21:29]),
		}, nil
	case KindStateSnapshot:
		if len(data) < snapshotFixedSize {
			return nil, badLen(kind, len(data))
		}
		count := int(data[16])
		if count > MaxSnapshotPlayers || len(data) != snapshotFixedSize+count*playerUpdateSize {
			return nil, badLen(kind, len(data))
		}
		snap := StateSnapshot{
			Tick:       be.Uint64(data[0:8]),
			ServerTime: int64(be.Uint64(data[8:16])),
			Players:    make([]PlayerUpdate, count),
		}
		off := snapshotFixedSize
		for i := range snap.Players {
			facing := Facing(data[off+24])
			if facing > FacingRight {
				return nil, fmt.Errorf("%w: unknown facing %d", ErrMalformedPacket, data[off+24])
			}
			snap.Players[i] = PlayerUpdate{
				PlayerID:  be.Uint64(data[off : off+8]),
				X:         math.Float32frombits(be.Uint32(data[off+8 : off+12])),
				Y:         math.Float32frombits(be.Uint32(data[off+12 : off+16])),
				VX:        math.Float32frombits(be.Uint32(data[off+16 : off+20])),
				VY:        math.Float32frombits(be.Uint32(data[off+20 : off+24])),
				Facing:    facing,
				LastInput: be.Uint32(data[off+25 : off+29]),
				Color:     Color{R: data[off+29], G: data[off+30], B: data[off+31]},
			}
			off += playerUpdateSize
		}
		return snap, nil
	case KindEvent:
		if len(data) != 1+8+3 {
			return nil, badLen(kind, len(data))
		}
		typ := EventType(data[0])
		if typ != EventPlayerJoined && typ != EventPlayerLeft {
			return nil, fmt.Errorf("%w: unknown event type %d", ErrMalformedPacket, data[0])
		}
		return Event{
			Type:     typ,
			PlayerID: be.Uint64(data[1:9]),
			Color:    Color{R: data[9], G: data[10], B: data[11]},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedPacket, kind)
	}
}

func badLen(kind Kind, n int) error {
	return fmt.Errorf("%w: bad %s payload length %d", ErrMalformedPacket, kind, n)
}

func trailing(kind Kind) error {
	return fmt.Errorf("%w: trailing bytes after %s payload", ErrMalformedPacket, kind)
}
