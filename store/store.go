// Package store keeps controller records in a single checksummed image.
//
// Each record is CBOR-encoded under a string key. The image is the CBOR map
// of all records followed by a big-endian CRC-16/MODBUS of the map. A File
// store rewrites the whole image on every change through a temporary file
// and a rename, so a power cut leaves either the old or the new image.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sigurn/crc16"
)

var (
	// ErrNotFound is returned by Load for a key that was never saved or was
	// erased.
	ErrNotFound = errors.New("record not found")

	// ErrCorrupt is returned when an image fails its checksum or cannot be
	// decoded.
	ErrCorrupt = errors.New("store image corrupt")
)

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// Memory is a store held in memory only.
type Memory struct {
	mu      sync.Mutex
	records map[string]cbor.RawMessage
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]cbor.RawMessage)}
}

// Load decodes the record saved under key into v.
func (m *Memory) Load(key string, v any) error {
	m.mu.Lock()
	raw, ok := m.records[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: %w: %w", key, ErrCorrupt, err)
	}
	return nil
}

// Save encodes v under key, replacing any previous record.
func (m *Memory) Save(key string, v any) error {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = raw
	return nil
}

// Erase removes the records under keys. Missing keys are ignored.
func (m *Memory) Erase(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.records, key)
	}
	return nil
}

// Keys returns the saved keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.records))
}

// File is a store persisted to a single image file.
type File struct {
	path string
	mem  *Memory
	// writeMu serializes image writes.
	writeMu sync.Mutex
}

// Open loads the image at path. A missing file yields an empty store; the
// file is created on the first Save.
func Open(path string) (*File, error) {
	f := &File{path: path, mem: NewMemory()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}

	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	f.mem.records = records
	return f, nil
}

// Path returns the image file path.
func (f *File) Path() string {
	return f.path
}

// Load decodes the record saved under key into v.
func (f *File) Load(key string, v any) error {
	return f.mem.Load(key, v)
}

// Save encodes v under key and rewrites the image.
func (f *File) Save(key string, v any) error {
	if err := f.mem.Save(key, v); err != nil {
		return err
	}
	return f.flush()
}

// Erase removes the records under keys and rewrites the image.
func (f *File) Erase(keys ...string) error {
	if err := f.mem.Erase(keys...); err != nil {
		return err
	}
	return f.flush()
}

// Keys returns the saved keys in sorted order.
func (f *File) Keys() []string {
	return f.mem.Keys()
}

func (f *File) flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mem.mu.Lock()
	image, err := Encode(f.mem.records)
	f.mem.mu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// Encode builds an image from records.
func Encode(records map[string]cbor.RawMessage) ([]byte, error) {
	body, err := encMode.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}
	crc := crc16.Checksum(body, table)
	return binary.BigEndian.AppendUint16(body, crc), nil
}

// Decode verifies and splits an image into records.
func Decode(image []byte) (map[string]cbor.RawMessage, error) {
	if len(image) < 2 {
		return nil, fmt.Errorf("image too short: %w", ErrCorrupt)
	}
	body := image[:len(image)-2]
	received := binary.BigEndian.Uint16(image[len(image)-2:])
	if calculated := crc16.Checksum(body, table); received != calculated {
		return nil, fmt.Errorf("CRC mismatch %04x != %04x: %w", received, calculated, ErrCorrupt)
	}

	records := make(map[string]cbor.RawMessage)
	if err := cbor.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	// A null body decodes to a nil map.
	if records == nil {
		records = make(map[string]cbor.RawMessage)
	}
	return records, nil
}

// encMode sorts map keys so identical records give identical images.
var encMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()
