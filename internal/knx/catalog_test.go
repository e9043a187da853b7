package knx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapdog/snapdog/internal/knxaddr"
)

func TestLoadCatalogSemicolon(t *testing.T) {
	csvData := "Address;Description;DPT\n" +
		"1/2/3;Living Room Temp;9.001\n" +
		"1/2/4;Living Room Switch;DPST-1-1\n"

	cat, err := LoadCatalog(strings.NewReader(csvData), zerolog.Nop())
	require.NoError(t, err)

	addr1 := knxaddr.Address{Main: 1, Middle: 2, Sub: 3}
	id, ok := cat.DptFor(addr1)
	require.True(t, ok)
	assert.Equal(t, 9, id.Major)
	assert.Equal(t, 1, id.Minor)
	assert.Equal(t, "Living Room Temp", cat.Describe(addr1))

	addr2 := knxaddr.Address{Main: 1, Middle: 2, Sub: 4}
	id2, ok := cat.DptFor(addr2)
	require.True(t, ok)
	assert.Equal(t, 1, id2.Major)
	assert.Equal(t, 1, id2.Minor)
}

func TestLoadCatalogComma(t *testing.T) {
	csvData := "Address,Description\n1/1/1,Hallway Motion\n"
	cat, err := LoadCatalog(strings.NewReader(csvData), zerolog.Nop())
	require.NoError(t, err)

	addr := knxaddr.Address{Main: 1, Middle: 1, Sub: 1}
	assert.Equal(t, "Hallway Motion", cat.Describe(addr))
	_, ok := cat.DptFor(addr)
	assert.False(t, ok)
}

func TestLoadCatalogDuplicateLastWins(t *testing.T) {
	csvData := "Address;Description\n1/1/1;First\n1/1/1;Second\n"
	cat, err := LoadCatalog(strings.NewReader(csvData), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "Second", cat.Describe(knxaddr.Address{Main: 1, Middle: 1, Sub: 1}))
}

func TestLoadCatalogMissingAddressColumn(t *testing.T) {
	csvData := "Description\nfoo\n"
	_, err := LoadCatalog(strings.NewReader(csvData), zerolog.Nop())
	require.Error(t, err)
}

func TestLoadCatalogSkipsUnparsableAddress(t *testing.T) {
	csvData := "Address;Description\nnotanaddress;Bad\n1/1/1;Good\n"
	cat, err := LoadCatalog(strings.NewReader(csvData), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, len(cat.entries))
}
