// Package store persists recorded schedules in a block-indexed binary file.
//
// Layout (little-endian): a u64 trace count at offset 0, followed by pages of
// BlocksSize int64 trace offsets and one int64 offset of the next page. The first
// page starts at offset 8; a zero slot or link is unfilled. Trace bodies are
// appended at end of file: u64 item count, then per item u64 counted id, u64
// UTF-16 unit count, UTF-16LE units, u64 options.
package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/interleave-sct/interleave/sct/trace"
)

// DefaultBlocksSize is the number of trace offsets per index page.
const DefaultBlocksSize = 256

const (
	wordSize     = 8
	headerOffset = 0
	firstPage    = wordSize
	// smallest encoded item: counted id, empty name length, options
	minItemSize = 3 * wordSize
)

var (
	// ErrIndexRange is returned when a trace index is not below Len.
	ErrIndexRange = errors.New("trace index out of range")
	// ErrCorrupt is returned when the offset table or a trace body is inconsistent.
	ErrCorrupt = errors.New("corrupt trace file")
	// ErrReadOnly is returned by Append on a store opened with OpenReadOnly.
	ErrReadOnly = errors.New("trace file opened read-only")
)

// Page is one offset-index page as found on disk.
type Page struct {
	Offset int64
	Slots  []int64
	Next   int64
}

// Store is a trace file. Safe for concurrent use; operations are serialized.
type Store struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	blocks   int
	readOnly bool
}

// Option configures a Store.
type Option func(*Store)

// WithBlocksSize overrides the page size. Files must be read with the size they were written with.
func WithBlocksSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.blocks = n
		}
	}
}

// Open opens the trace file for appending, creating it with an empty header if needed.
func Open(path string, opts ...Option) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file %s: %w", path, err)
	}
	s := newStore(f, path, false, opts)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat trace file %s: %w", path, err)
	}
	if info.Size() == 0 {
		if err := s.writeWord(headerOffset, 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// OpenReadOnly opens an existing trace file for reading.
func OpenReadOnly(path string, opts ...Option) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file %s: %w", path, err)
	}
	return newStore(f, path, true, opts), nil
}

func newStore(f *os.File, path string, readOnly bool, opts []Option) *Store {
	s := &Store{f: f, path: path, blocks: DefaultBlocksSize, readOnly: readOnly}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file path the store was opened with.
func (s *Store) Path() string { return s.path }

// BlocksSize returns the page size in use.
func (s *Store) BlocksSize() int { return s.blocks }

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Len returns the number of stored traces.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.count()
	return int(n), err
}

// Trace reads the trace at index i.
func (s *Store) Trace(i int) ([]trace.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.count()
	if err != nil {
		return nil, err
	}
	if i < 0 || uint64(i) >= n {
		return nil, fmt.Errorf("trace %d of %d: %w", i, n, ErrIndexRange)
	}
	slot, err := s.slotOffset(uint64(i))
	if err != nil {
		return nil, err
	}
	off, err := s.readWord(slot)
	if err != nil {
		return nil, err
	}
	if off <= 0 {
		return nil, fmt.Errorf("trace %d has no offset: %w", i, ErrCorrupt)
	}
	return s.readTrace(int64(off))
}

// Traces reads every stored trace in order.
func (s *Store) Traces() ([][]trace.Item, error) {
	n, err := s.Len()
	if err != nil {
		return nil, err
	}
	out := make([][]trace.Item, 0, n)
	for i := 0; i < n; i++ {
		items, err := s.Trace(i)
		if err != nil {
			return nil, err
		}
		out = append(out, items)
	}
	return out, nil
}

// Append writes a trace at the end of the file and indexes it.
func (s *Store) Append(items []trace.Item) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.count()
	if err != nil {
		return err
	}
	if n%uint64(s.blocks) == 0 {
		if err := s.appendPage(n); err != nil {
			return err
		}
	}

	end, err := s.size()
	if err != nil {
		return err
	}
	body, err := encodeTrace(items)
	if err != nil {
		return err
	}
	if _, err := s.f.WriteAt(body, end); err != nil {
		return fmt.Errorf("write trace %d: %w", n, err)
	}

	slot, err := s.slotOffset(n)
	if err != nil {
		return err
	}
	if err := s.writeWord(slot, uint64(end)); err != nil {
		return err
	}
	return s.writeWord(headerOffset, n+1)
}

// Index returns the offset-index pages in file order.
func (s *Store) Index() ([]Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	pages := make([]Page, 0, int(n)/s.blocks+1)
	off := int64(firstPage)
	for off != 0 {
		buf := make([]byte, (s.blocks+1)*wordSize)
		if err := s.readFull(buf, off); err != nil {
			return nil, fmt.Errorf("read page at %d: %w", off, err)
		}
		p := Page{Offset: off, Slots: make([]int64, s.blocks)}
		for i := range p.Slots {
			p.Slots[i] = int64(binary.LittleEndian.Uint64(buf[i*wordSize:]))
		}
		p.Next = int64(binary.LittleEndian.Uint64(buf[s.blocks*wordSize:]))
		pages = append(pages, p)
		if len(pages) > int(n)/s.blocks+1 {
			return nil, fmt.Errorf("page chain longer than %d traces need: %w", n, ErrCorrupt)
		}
		off = p.Next
	}
	return pages, nil
}

func (s *Store) count() (uint64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < wordSize {
		return 0, fmt.Errorf("missing header: %w", ErrCorrupt)
	}
	return s.readWord(headerOffset)
}

func (s *Store) size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat trace file: %w", err)
	}
	return info.Size(), nil
}

// pageOffset follows the page links to page number page.
func (s *Store) pageOffset(page uint64) (int64, error) {
	off := int64(firstPage)
	for ; page > 0; page-- {
		next, err := s.readWord(off + int64(s.blocks)*wordSize)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			return 0, fmt.Errorf("missing page link at %d: %w", off, ErrCorrupt)
		}
		off = int64(next)
	}
	return off, nil
}

func (s *Store) slotOffset(i uint64) (int64, error) {
	page, err := s.pageOffset(i / uint64(s.blocks))
	if err != nil {
		return 0, err
	}
	return page + int64(i%uint64(s.blocks))*wordSize, nil
}

// appendPage allocates an empty page at end of file for trace index n and links it.
func (s *Store) appendPage(n uint64) error {
	end, err := s.size()
	if err != nil {
		return err
	}
	if n == 0 && end != firstPage {
		return fmt.Errorf("first page expected at %d, file ends at %d: %w", firstPage, end, ErrCorrupt)
	}
	if _, err := s.f.WriteAt(make([]byte, (s.blocks+1)*wordSize), end); err != nil {
		return fmt.Errorf("write index page: %w", err)
	}
	if n == 0 {
		return nil
	}
	prev, err := s.pageOffset(n/uint64(s.blocks) - 1)
	if err != nil {
		return err
	}
	return s.writeWord(prev+int64(s.blocks)*wordSize, uint64(end))
}

func (s *Store) readTrace(off int64) ([]trace.Item, error) {
	end, err := s.size()
	if err != nil {
		return nil, err
	}
	if off >= end {
		return nil, fmt.Errorf("trace offset %d beyond end %d: %w", off, end, ErrCorrupt)
	}
	r := bufio.NewReader(io.NewSectionReader(s.f, off, end-off))
	count, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read trace at %d: %w", off, err)
	}
	if count > uint64(end-off)/minItemSize {
		return nil, fmt.Errorf("trace at %d claims %d items: %w", off, count, ErrCorrupt)
	}
	items := make([]trace.Item, 0, count)
	for j := uint64(0); j < count; j++ {
		it, err := decodeItem(r)
		if err != nil {
			return nil, fmt.Errorf("read item %d of trace at %d: %w", j, off, err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) readFull(buf []byte, off int64) error {
	n, err := s.f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (s *Store) readWord(off int64) (uint64, error) {
	var buf [wordSize]byte
	if err := s.readFull(buf[:], off); err != nil {
		return 0, fmt.Errorf("read offset %d: %w", off, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (s *Store) writeWord(off int64, v uint64) error {
	var buf [wordSize]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := s.f.WriteAt(buf[:], off); err != nil {
		return fmt.Errorf("write offset %d: %w", off, err)
	}
	return nil
}

func encodeTrace(items []trace.Item) ([]byte, error) {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(len(items)))
	for _, it := range items {
		if err := encodeItem(&buf, it); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
