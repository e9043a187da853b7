package dpt

import "math"

// Detect guesses a DPT for raw APDU bytes when no DPT is configured for
// the originating address. It is display-only: callers must never use a
// detected DPT to drive a write, only to render a best-effort value.
func Detect(raw []byte) Value {
	switch len(raw) {
	case 1:
		return detect1Byte(raw[0])
	case 2:
		return detect2Byte(raw)
	case 4:
		return detect4Byte(raw)
	default:
		return RawValue(raw)
	}
}

func detect1Byte(b byte) Value {
	switch {
	case b <= 1:
		v, _ := decodeBool([]byte{b}, Id{Major: 1, Minor: 1})
		return v
	case b <= 100:
		v, _ := decodeU8([]byte{b}, Id{Major: 5, Minor: 1})
		return v
	default:
		v, _ := decodeU8([]byte{b}, Id{Major: 5, Minor: 4})
		return v
	}
}

// plausibleLow/High bound the ranges considered plausible for a DPT 9
// reading (covers temperature, humidity, and illuminance DPT 9 minors).
const (
	plausibleLow  = -50.0
	plausibleHigh = 20000.0
)

func detect2Byte(raw []byte) Value {
	id9 := Id{Major: 9, Minor: 1}
	v, err := decodeFloat16(raw, id9)
	if err == nil && float64(v.F32) >= plausibleLow && float64(v.F32) <= plausibleHigh {
		return v
	}
	v, _ = decodeU16(raw, Id{Major: 7, Minor: 1})
	return v
}

func detect4Byte(raw []byte) Value {
	v, err := decodeFloat32(raw, Id{Major: 14, Minor: 0})
	if err == nil && !math.IsInf(float64(v.F32), 0) && !math.IsNaN(float64(v.F32)) && math.Abs(float64(v.F32)) < 1e6 {
		return v
	}
	v, _ = decodeI32(raw, Id{Major: 13, Minor: 1})
	return v
}
