package store_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sigurn/crc16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/fieldctl/store"
)

type record struct {
	OnPeriod  uint16
	OffPeriod uint8
	Numbers   []string
}

func TestMemory(t *testing.T) {
	s := store.NewMemory()

	var got record
	err := s.Load("valve/1", &got)
	assert.ErrorIs(t, err, store.ErrNotFound)

	want := record{OnPeriod: 30, OffPeriod: 2, Numbers: []string{"9876543210"}}
	require.NoError(t, s.Save("valve/1", want))
	require.NoError(t, s.Load("valve/1", &got))
	assert.Equal(t, want, got)

	require.NoError(t, s.Save("settings", map[string]int{"a": 1}))
	assert.Equal(t, []string{"settings", "valve/1"}, s.Keys())

	require.NoError(t, s.Erase("valve/1", "missing"))
	assert.ErrorIs(t, s.Load("valve/1", &got), store.ErrNotFound)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldctl.img")

	s, err := store.Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Keys())

	want := record{OnPeriod: 999, OffPeriod: 99}
	require.NoError(t, s.Save("valve/12", want))

	reopened, err := store.Open(path)
	require.NoError(t, err)

	var got record
	require.NoError(t, reopened.Load("valve/12", &got))
	assert.Equal(t, want, got)

	require.NoError(t, reopened.Erase("valve/12"))
	again, err := store.Open(path)
	require.NoError(t, err)
	assert.ErrorIs(t, again.Load("valve/12", &got), store.ErrNotFound)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldctl.img")

	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("settings", record{OnPeriod: 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = store.Open(path)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestDecode(t *testing.T) {
	_, err := store.Decode([]byte{0x01})
	assert.ErrorIs(t, err, store.ErrCorrupt)

	image, err := store.Encode(nil)
	require.NoError(t, err)
	records, err := store.Decode(image)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
}

func TestFileNullImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldctl.img")
	// CBOR null followed by its CRC-16/MODBUS.
	body := []byte{0xf6}
	crc := crc16.Checksum(body, crc16.MakeTable(crc16.CRC16_MODBUS))
	require.NoError(t, os.WriteFile(path, binary.BigEndian.AppendUint16(body, crc), 0o600))

	s, err := store.Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Keys())
	require.NoError(t, s.Save("settings", record{OnPeriod: 7}))

	var got record
	require.NoError(t, s.Load("settings", &got))
	assert.Equal(t, uint16(7), got.OnPeriod)
}

func TestEncodeDeterministic(t *testing.T) {
	a := store.NewMemory()
	b := store.NewMemory()
	require.NoError(t, a.Save("x", 1))
	require.NoError(t, a.Save("y", 2))
	require.NoError(t, b.Save("y", 2))
	require.NoError(t, b.Save("x", 1))

	dir := t.TempDir()
	fa, err := store.Open(filepath.Join(dir, "a"))
	require.NoError(t, err)
	fb, err := store.Open(filepath.Join(dir, "b"))
	require.NoError(t, err)
	require.NoError(t, fa.Save("x", 1))
	require.NoError(t, fa.Save("y", 2))
	require.NoError(t, fb.Save("y", 2))
	require.NoError(t, fb.Save("x", 1))

	imgA, err := os.ReadFile(fa.Path())
	require.NoError(t, err)
	imgB, err := os.ReadFile(fb.Path())
	require.NoError(t, err)
	assert.Equal(t, imgA, imgB)
}
