package knxaddr

import "testing"

func TestParseFormatRoundTrip(t *testing.T) {
	for main := uint8(0); main <= 31; main += 7 {
		for middle := uint8(0); middle <= 7; middle++ {
			for sub := 0; sub <= 255; sub += 51 {
				a := Address{Main: main, Middle: middle, Sub: uint8(sub)}
				got, err := Parse(a.String())
				if err != nil {
					t.Fatalf("Parse(%s): %v", a, err)
				}
				if !got.Equal(a) {
					t.Fatalf("round trip mismatch: got %s want %s", got, a)
				}
			}
		}
	}
}

func TestRaw16RoundTrip(t *testing.T) {
	a := Address{Main: 3, Middle: 5, Sub: 200}
	raw := a.Raw16()
	got := FromRaw16(raw)
	if !got.Equal(a) {
		t.Fatalf("FromRaw16(Raw16()) = %s, want %s", got, a)
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	cases := []string{
		"0/0/256",
		"0/8/0",
		"32/0/0",
		"a/b/c",
		"",
		"1/2",
		"1/2/3/4",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("Parse(%q) should have failed", c)
		}
	}
}
