package dpt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ErrDptMismatch is returned when a Value's Kind does not match the
// DPT it is being encoded against.
type ErrDptMismatch struct {
	Dpt  Id
	Kind Kind
}

func (e *ErrDptMismatch) Error() string {
	return fmt.Sprintf("dpt: value kind %d does not match %s", e.Kind, e.Dpt)
}

// ErrDptEncodeError reports that a value could not be represented in the
// wire encoding for a DPT (e.g. out of range).
type ErrDptEncodeError struct {
	Dpt    Id
	Reason string
}

func (e *ErrDptEncodeError) Error() string {
	return fmt.Sprintf("dpt: cannot encode for %s: %s", e.Dpt, e.Reason)
}

// ErrUnknownDpt reports an unsupported DPT major.
type ErrUnknownDpt struct{ Dpt Id }

func (e *ErrUnknownDpt) Error() string { return fmt.Sprintf("dpt: unsupported DPT %s", e.Dpt) }

// Decode converts raw APDU payload bytes to a Value using the rules for
// the given DPT major. Unsupported majors return ErrUnknownDpt; the caller
// falls back to RawValue in that case.
func Decode(raw []byte, id Id) (Value, error) {
	switch id.Major {
	case 1:
		return decodeBool(raw, id)
	case 5:
		return decodeU8(raw, id)
	case 6:
		return decodeI8(raw, id)
	case 7:
		return decodeU16(raw, id)
	case 8:
		return decodeI16(raw, id)
	case 9:
		return decodeFloat16(raw, id)
	case 12:
		return decodeU32(raw, id)
	case 13:
		return decodeI32(raw, id)
	case 14:
		return decodeFloat32(raw, id)
	case 16:
		return decodeText(raw, id)
	default:
		return Value{}, &ErrUnknownDpt{Dpt: id}
	}
}

// Encode converts a Value to wire bytes for the given DPT. The value's
// Kind must match what the DPT major expects, else ErrDptMismatch.
func Encode(v Value, id Id) ([]byte, error) {
	switch id.Major {
	case 1:
		if v.Kind != KindBool {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		if v.Bool {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil
	case 5:
		if id.Minor == 1 {
			return encodeScaledPercent(v, id)
		}
		if v.Kind != KindU8 {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		return []byte{v.U8}, nil
	case 6:
		if v.Kind != KindI8 {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		return []byte{byte(v.I8)}, nil
	case 7:
		if v.Kind != KindU16 {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v.U16)
		return b, nil
	case 8:
		if v.Kind != KindI16 {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v.I16))
		return b, nil
	case 9:
		if v.Kind != KindF16Knx {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		return encodeFloat16(v.F32, id)
	case 12:
		if v.Kind != KindU32 {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v.U32)
		return b, nil
	case 13:
		if v.Kind != KindI32 {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v.I32))
		return b, nil
	case 14:
		if v.Kind != KindF32Ieee {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(v.F32))
		return b, nil
	case 16:
		if v.Kind != KindText {
			return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
		}
		return encodeText(v.Text), nil
	default:
		return nil, &ErrUnknownDpt{Dpt: id}
	}
}

func decodeBool(raw []byte, id Id) (Value, error) {
	if len(raw) < 1 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "empty payload"}
	}
	return BoolValue(raw[0]&0x01 == 0x01, id), nil
}

func decodeU8(raw []byte, id Id) (Value, error) {
	if len(raw) < 1 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "empty payload"}
	}
	if id.Minor == 1 {
		pct := scaleByteToPercent(raw[0])
		return Value{Kind: KindU8, U8: pct, Dpt: &id}, nil
	}
	return U8Value(raw[0], id), nil
}

func decodeI8(raw []byte, id Id) (Value, error) {
	if len(raw) < 1 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "empty payload"}
	}
	return I8Value(int8(raw[0]), id), nil
}

func decodeU16(raw []byte, id Id) (Value, error) {
	if len(raw) < 2 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "payload shorter than 2 bytes"}
	}
	return U16Value(binary.BigEndian.Uint16(raw), id), nil
}

func decodeI16(raw []byte, id Id) (Value, error) {
	if len(raw) < 2 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "payload shorter than 2 bytes"}
	}
	return I16Value(int16(binary.BigEndian.Uint16(raw)), id), nil
}

func decodeU32(raw []byte, id Id) (Value, error) {
	if len(raw) < 4 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "payload shorter than 4 bytes"}
	}
	return U32Value(binary.BigEndian.Uint32(raw), id), nil
}

func decodeI32(raw []byte, id Id) (Value, error) {
	if len(raw) < 4 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "payload shorter than 4 bytes"}
	}
	return I32Value(int32(binary.BigEndian.Uint32(raw)), id), nil
}

func decodeFloat32(raw []byte, id Id) (Value, error) {
	if len(raw) < 4 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "payload shorter than 4 bytes"}
	}
	bits := binary.BigEndian.Uint32(raw)
	return FloatValue(math.Float32frombits(bits), KindF32Ieee, id), nil
}

func decodeText(raw []byte, id Id) (Value, error) {
	s := string(raw)
	s = strings.TrimRight(s, "\x00")
	return TextValue(s, id), nil
}

func encodeText(s string) []byte {
	const dpt16Length = 14
	b := make([]byte, dpt16Length)
	copy(b, []byte(s))
	return b
}

// decodeFloat16 implements the DPT 9 2-byte KNX float: sign(1) |
// exponent(4) | mantissa(11); mantissa is an 11-bit field where, when the
// sign bit is set, the actual mantissa is mantissaField - 2048. Value =
// mantissa * 2^exponent * 0.01.
func decodeFloat16(raw []byte, id Id) (Value, error) {
	if len(raw) < 2 {
		return Value{}, &ErrDptEncodeError{Dpt: id, Reason: "payload shorter than 2 bytes"}
	}
	raw16 := binary.BigEndian.Uint16(raw)
	sign := (raw16 >> 15) & 0x01
	exponent := int((raw16 >> 11) & 0x0F)
	mantissaField := int32(raw16 & 0x07FF)

	mantissa := mantissaField
	if sign == 1 {
		mantissa -= 2048
	}

	value := float32(mantissa) * float32(math.Pow(2, float64(exponent))) * 0.01
	return FloatValue(value, KindF16Knx, id), nil
}

func encodeFloat16(value float32, id Id) ([]byte, error) {
	scaled := float64(value) * 100
	m := int64(math.Round(scaled))
	exponent := 0
	for m > 2047 || m < -2048 {
		exponent++
		if exponent > 15 {
			return nil, &ErrDptEncodeError{Dpt: id, Reason: "value out of representable range"}
		}
		m = int64(math.Round(scaled / float64(int64(1)<<exponent)))
	}

	var sign uint16
	mantissaField := m
	if m < 0 {
		sign = 1
		mantissaField = m + 2048
	}

	raw16 := (sign << 15) | (uint16(exponent) << 11) | (uint16(mantissaField) & 0x07FF)
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, raw16)
	return b, nil
}

// scaleByteToPercent implements the DPT 5.001 scaling rule: byte 0..255
// maps to 0..100%, rounding to nearest with ties resolved to even.
func scaleByteToPercent(b byte) uint8 {
	return uint8(roundHalfEven(float64(b) * 100.0 / 255.0))
}

func encodeScaledPercent(v Value, id Id) ([]byte, error) {
	var pct float64
	switch v.Kind {
	case KindU8:
		pct = float64(v.U8)
	default:
		return nil, &ErrDptMismatch{Dpt: id, Kind: v.Kind}
	}
	if pct < 0 || pct > 100 {
		return nil, &ErrDptEncodeError{Dpt: id, Reason: "percent out of 0..100 range"}
	}
	b := roundHalfEven(pct * 255.0 / 100.0)
	return []byte{byte(b)}, nil
}

// roundHalfEven implements banker's rounding for the DPT scaling rules
// that explicitly require it.
func roundHalfEven(v float64) float64 {
	floor := math.Floor(v)
	diff := v - floor
	switch {
	case diff < 0.5:
		return floor
	case diff > 0.5:
		return floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			return floor
		}
		return floor + 1
	}
}
