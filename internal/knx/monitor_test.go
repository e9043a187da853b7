package knx

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapdog/snapdog/internal/dpt"
	"github.com/snapdog/snapdog/internal/knxaddr"
)

func TestCompileFilterWildcard(t *testing.T) {
	re, err := CompileFilter("1/2/*")
	require.NoError(t, err)
	require.NotNil(t, re)

	assert.True(t, re.MatchString("1/2/3"))
	assert.True(t, re.MatchString("1/2/255"))
	assert.False(t, re.MatchString("1/3/3"))
}

func TestCompileFilterExact(t *testing.T) {
	re, err := CompileFilter("1/2/3")
	require.NoError(t, err)
	assert.True(t, re.MatchString("1/2/3"))
	assert.False(t, re.MatchString("1/2/30"))
}

func TestCompileFilterEmpty(t *testing.T) {
	re, err := CompileFilter("")
	require.NoError(t, err)
	assert.Nil(t, re)
}

func TestMatchesNilFilterAcceptsAll(t *testing.T) {
	ev := GroupEvent{Destination: knxaddr.Address{Main: 1, Middle: 2, Sub: 3}}
	assert.True(t, Matches(nil, ev))
}

func TestRenderTelegramWrite(t *testing.T) {
	addr := knxaddr.Address{Main: 1, Middle: 2, Sub: 3}
	v := dpt.BoolValue(true, dpt.Id{Major: 1, Minor: 1})
	ev := GroupEvent{
		Source:      "1.1.5",
		Destination: addr,
		APCI:        APCIWrite,
		Raw:         []byte{0x01},
		Value:       &v,
		At:          time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	out := RenderTelegram(ev, "Living Room Light")
	assert.True(t, strings.Contains(out, "Write"))
	assert.True(t, strings.Contains(out, "1.1.5 -> 1/2/3"))
	assert.True(t, strings.Contains(out, "on"))
	assert.True(t, strings.Contains(out, "Raw: 01"))
	assert.True(t, strings.Contains(out, "Living Room Light"))
}

func TestRenderTelegramRead(t *testing.T) {
	addr := knxaddr.Address{Main: 0, Middle: 0, Sub: 1}
	ev := GroupEvent{
		Source:      "1.1.1",
		Destination: addr,
		APCI:        APCIRead,
		At:          time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	out := RenderTelegram(ev, "")
	assert.True(t, strings.Contains(out, "Read"))
	assert.False(t, strings.Contains(out, "="))
}
