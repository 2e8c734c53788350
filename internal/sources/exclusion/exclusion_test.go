package exclusion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "0x1111111111111111111111111111111111111111"
	addrB = "0xAbCdEf0000000000000000000000000000000002"
)

func TestParse(t *testing.T) {
	input := "  " + addrA + "  \n\n" + addrB + "\n   \n"
	list, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 2, list.Len())
	assert.True(t, list.Contains(addrA))
	assert.True(t, list.Contains(strings.ToLower(addrB)))
	assert.True(t, list.Contains("0x"+strings.ToUpper(addrB[2:])))
	assert.False(t, list.Contains("0x2222222222222222222222222222222222222222"))
}

func TestParse_InvalidAddress(t *testing.T) {
	_, err := Parse(strings.NewReader(addrA + "\nnot-an-address\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclusion.txt")
	require.NoError(t, os.WriteFile(path, []byte(addrA+"\n"), 0o600))

	list, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Len())

	empty, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestNilList(t *testing.T) {
	var list *List
	assert.False(t, list.Contains(addrA))
	assert.Equal(t, 0, list.Len())
}

func TestNew(t *testing.T) {
	list, err := New(addrA, "", addrB)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Len())

	_, err = New("0x123")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
