package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interleave-sct/interleave/sct/trace"
)

func openTemp(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces.bin")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func sampleTrace(i int) []trace.Item {
	return []trace.Item{
		{CountedID: 1, Method: "Program.Main()", Options: 1},
		{CountedID: uint64(i%3 + 1), Method: fmt.Sprintf("Bank.Account.Deposit(Int32) #%d", i), Options: 2},
		{CountedID: 2, Method: "Bank.Account.Withdraw(Int32)", Options: uint64(i)},
	}
}

func TestOpen_CreatesEmptyFile(t *testing.T) {
	s, path := openTemp(t)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size(), "header only")
}

func TestAppend_RoundTrip(t *testing.T) {
	// GIVEN a store with three traces
	s, _ := openTemp(t)
	want := [][]trace.Item{sampleTrace(0), nil, sampleTrace(2)}
	for _, tr := range want {
		require.NoError(t, s.Append(tr))
	}

	// WHEN they are read back
	got, err := s.Traces()

	// THEN every field survives, an empty trace reads back empty
	require.NoError(t, err)
	require.Len(t, got, 3)
	if diff := cmp.Diff(want[0], got[0]); diff != "" {
		t.Errorf("trace 0 (-want +got):\n%s", diff)
	}
	assert.Empty(t, got[1])
	if diff := cmp.Diff(want[2], got[2]); diff != "" {
		t.Errorf("trace 2 (-want +got):\n%s", diff)
	}
}

func TestAppend_PageBoundaries(t *testing.T) {
	const blocks = 4
	for _, k := range []int{blocks - 1, blocks, blocks + 1, 3*blocks + 1} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			s, path := openTemp(t, WithBlocksSize(blocks))
			for i := 0; i < k; i++ {
				require.NoError(t, s.Append(sampleTrace(i)))
			}
			require.NoError(t, s.Close())

			// reopen to prove everything came from disk
			r, err := OpenReadOnly(path, WithBlocksSize(blocks))
			require.NoError(t, err)
			defer r.Close()

			n, err := r.Len()
			require.NoError(t, err)
			assert.Equal(t, k, n)
			for i := 0; i < k; i++ {
				got, err := r.Trace(i)
				require.NoError(t, err)
				if diff := cmp.Diff(sampleTrace(i), got); diff != "" {
					t.Fatalf("trace %d (-want +got):\n%s", i, diff)
				}
			}

			pages, err := r.Index()
			require.NoError(t, err)
			assert.Len(t, pages, (k-1)/blocks+1)
			assert.Equal(t, int64(8), pages[0].Offset)
			assert.Zero(t, pages[len(pages)-1].Next)
		})
	}
}

func TestAppend_ReopenContinues(t *testing.T) {
	s, path := openTemp(t, WithBlocksSize(2))
	require.NoError(t, s.Append(sampleTrace(0)))
	require.NoError(t, s.Close())

	s2, err := Open(path, WithBlocksSize(2))
	require.NoError(t, err)
	defer s2.Close()
	for i := 1; i < 5; i++ {
		require.NoError(t, s2.Append(sampleTrace(i)))
	}

	got, err := s2.Traces()
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range got {
		assert.Equal(t, sampleTrace(i), got[i])
	}
}

func TestTrace_IndexOutOfRange(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Append(sampleTrace(0)))

	_, err := s.Trace(1)
	assert.ErrorIs(t, err, ErrIndexRange)
	_, err = s.Trace(-1)
	assert.ErrorIs(t, err, ErrIndexRange)
}

func TestTrace_ZeroSlotIsCorrupt(t *testing.T) {
	// GIVEN a file whose header claims a trace the index never recorded
	s, path := openTemp(t)
	require.NoError(t, s.Append(sampleTrace(0)))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 2)
	_, err = f.WriteAt(b[:], 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// WHEN the phantom trace is read
	_, err = s.Trace(1)

	// THEN the table is reported corrupt
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTrace_TruncatedBody(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Append(sampleTrace(0)))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	_, err = s.Trace(0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOpenReadOnly_RejectsAppend(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Close())

	r, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer r.Close()
	assert.ErrorIs(t, r.Append(sampleTrace(0)), ErrReadOnly)
}

func TestOpenReadOnly_MissingFile(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "nope.bin"))
	assert.Error(t, err)
}

func TestCodec_NonASCIINames(t *testing.T) {
	s, _ := openTemp(t)
	want := []trace.Item{
		{CountedID: 7, Method: "Zähler.Erhöhe(Int32)", Options: 3},
		{CountedID: 8, Method: "計数器.増加()", Options: 1},
		{CountedID: 9, Method: "Emoji.😀()", Options: 2},
	}
	require.NoError(t, s.Append(want))

	got, err := s.Trace(0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCodec_StoresUTF16UnitCount(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Append([]trace.Item{{CountedID: 1, Method: "😀", Options: 1}}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// header, one page (256 slots + link), item count, counted id, then the unit count
	body := 8 + (DefaultBlocksSize+1)*8
	unitCount := binary.LittleEndian.Uint64(data[body+16:])
	assert.Equal(t, uint64(2), unitCount, "a surrogate pair is two UTF-16 units")
}
