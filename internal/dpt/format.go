package dpt

import (
	"encoding/hex"
	"fmt"
)

// unit returns the display unit suffix for a known DPT, or "" if none.
func unit(id Id) string {
	switch {
	case id.Major == 9 && (id.Minor == 1 || id.Minor == 2 || id.Minor == 3):
		return "°C"
	case id.Major == 9 && id.Minor == 7:
		return "%"
	case id.Major == 9 && id.Minor == 4:
		return "lx"
	case id.Major == 5 && id.Minor == 1:
		return "%"
	default:
		return ""
	}
}

// Format renders a Value for human display, e.g. "20.0°C" for a DPT 9.001
// temperature or "50%" for a DPT 5.001 scaled percentage.
func Format(v Value) string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return boolLabel(v.Dpt, true)
		}
		return boolLabel(v.Dpt, false)
	case KindU8:
		if v.Dpt != nil {
			return fmt.Sprintf("%d%s", v.U8, unit(*v.Dpt))
		}
		return fmt.Sprintf("%d", v.U8)
	case KindI8:
		return fmt.Sprintf("%d", v.I8)
	case KindU16:
		return fmt.Sprintf("%d", v.U16)
	case KindI16:
		return fmt.Sprintf("%d", v.I16)
	case KindU32:
		return fmt.Sprintf("%d", v.U32)
	case KindI32:
		return fmt.Sprintf("%d", v.I32)
	case KindF16Knx, KindF32Ieee:
		u := ""
		if v.Dpt != nil {
			u = unit(*v.Dpt)
		}
		return fmt.Sprintf("%.1f%s", v.F32, u)
	case KindText:
		return v.Text
	case KindRaw:
		return fmt.Sprintf("Raw: %s", hex.EncodeToString(v.Raw))
	default:
		return "?"
	}
}

// boolLabel applies the context-sensitive labels the spec calls for on
// common DPT 1 minors (on/off, up/down, open/close); anything else falls
// back to true/false.
func boolLabel(id *Id, v bool) string {
	if id == nil {
		return boolStr(v)
	}
	switch id.Minor {
	case 1: // on/off
		if v {
			return "on"
		}
		return "off"
	case 8: // up/down
		if v {
			return "down"
		}
		return "up"
	case 9: // open/close
		if v {
			return "close"
		}
		return "open"
	default:
		return boolStr(v)
	}
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
