package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"

	"github.com/interleave-sct/interleave/sct/trace"
)

// Method names are stored as UTF-16LE without a byte-order mark.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [wordSize]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r io.Reader) (uint64, error) {
	var b [wordSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func encodeItem(buf *bytes.Buffer, it trace.Item) error {
	units, err := utf16le.NewEncoder().Bytes([]byte(it.Method))
	if err != nil {
		return fmt.Errorf("encode method %q: %w", it.Method, err)
	}
	writeUint64(buf, it.CountedID)
	writeUint64(buf, uint64(len(units)/2))
	buf.Write(units)
	writeUint64(buf, it.Options)
	return nil
}

// maxNameUnits bounds a single method name; longer lengths are treated as corruption.
const maxNameUnits = 1 << 20

func decodeItem(r io.Reader) (trace.Item, error) {
	var it trace.Item
	var err error
	if it.CountedID, err = readUint64(r); err != nil {
		return it, err
	}
	n, err := readUint64(r)
	if err != nil {
		return it, err
	}
	if n > maxNameUnits {
		return it, fmt.Errorf("method name of %d units: %w", n, ErrCorrupt)
	}
	units := make([]byte, 2*n)
	if _, err := io.ReadFull(r, units); err != nil {
		return it, err
	}
	name, err := utf16le.NewDecoder().Bytes(units)
	if err != nil {
		return it, fmt.Errorf("decode method name: %w", err)
	}
	it.Method = string(name)
	if it.Options, err = readUint64(r); err != nil {
		return it, err
	}
	return it, nil
}
