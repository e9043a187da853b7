// Package knxaddr implements KNX group addresses: the three-level
// main/middle/sub identifiers used by every group-address operation
// in the system.
package knxaddr

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a three-level KNX group address: main (0..31), middle (0..7),
// sub (0..255). Its 16-bit wire form is (main<<11)|(middle<<8)|sub.
type Address struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

// Raw16 returns the 16-bit wire encoding of the address.
func (a Address) Raw16() uint16 {
	return (uint16(a.Main) << 11) | (uint16(a.Middle) << 8) | uint16(a.Sub)
}

// FromRaw16 reconstructs an Address from its 16-bit wire form.
func FromRaw16(raw uint16) Address {
	return Address{
		Main:   uint8(raw >> 11),
		Middle: uint8((raw >> 8) & 0x07),
		Sub:    uint8(raw & 0xFF),
	}
}

// String renders the address in "main/middle/sub" form.
func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Main, a.Middle, a.Sub)
}

// Parse reads a "main/middle/sub" group address, validating each
// component's range (main 0..31, middle 0..7, sub 0..255).
func Parse(s string) (Address, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("knxaddr: %q is not a three-level group address", s)
	}

	main, err := parseComponent(parts[0], 31)
	if err != nil {
		return Address{}, fmt.Errorf("knxaddr: main component: %w", err)
	}
	middle, err := parseComponent(parts[1], 7)
	if err != nil {
		return Address{}, fmt.Errorf("knxaddr: middle component: %w", err)
	}
	sub, err := parseComponent(parts[2], 255)
	if err != nil {
		return Address{}, fmt.Errorf("knxaddr: sub component: %w", err)
	}

	return Address{Main: uint8(main), Middle: uint8(middle), Sub: uint8(sub)}, nil
}

func parseComponent(s string, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if v < 0 || v > max {
		return 0, fmt.Errorf("%d out of range 0..%d", v, max)
	}
	return v, nil
}

// Equal compares two addresses by their 16-bit wire form.
func (a Address) Equal(other Address) bool {
	return a.Raw16() == other.Raw16()
}
