package treehash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func sha(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func TestSum_ThreeBlocks(t *testing.T) {
	data := testData(2500000)
	acc := New()

	require.NoError(t, acc.AddPart(data))
	require.Equal(t, 3, acc.Blocks())

	d0 := sha(data[:BlockSize])
	d1 := sha(data[BlockSize : 2*BlockSize])
	d2 := sha(data[2*BlockSize:])
	assert.Equal(t, 402848, len(data[2*BlockSize:]))

	got, err := acc.Sum()
	require.NoError(t, err)
	assert.Equal(t, sha(sha(d0, d1), d2), got)
}

func TestSum_SingleBlockIsItsOwnRoot(t *testing.T) {
	data := []byte("hello glacier")
	acc := New()
	require.NoError(t, acc.AddBlock(data))

	got, err := acc.SumHex()
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sha(data)), got)
}

func TestSum_FourBlocks(t *testing.T) {
	data := testData(4 * BlockSize)
	acc := New()
	require.NoError(t, acc.AddPart(data))

	d := make([][]byte, 4)
	for i := range d {
		d[i] = sha(data[i*BlockSize : (i+1)*BlockSize])
	}

	got, err := acc.Sum()
	require.NoError(t, err)
	assert.Equal(t, sha(sha(d[0], d[1]), sha(d[2], d[3])), got)
}

func TestSum_FiveBlocksPromotesOddDigest(t *testing.T) {
	data := testData(4*BlockSize + 10)
	acc := New()
	require.NoError(t, acc.AddPart(data))

	d := make([][]byte, 5)
	for i := 0; i < 4; i++ {
		d[i] = sha(data[i*BlockSize : (i+1)*BlockSize])
	}
	d[4] = sha(data[4*BlockSize:])

	got, err := acc.Sum()
	require.NoError(t, err)
	assert.Equal(t, sha(sha(sha(d[0], d[1]), sha(d[2], d[3])), d[4]), got)
}

func TestSum_Empty(t *testing.T) {
	_, err := New().Sum()
	assert.ErrorIs(t, err, ErrNoBlocks)

	_, err = New().SumHex()
	assert.ErrorIs(t, err, ErrNoBlocks)
}

func TestAddBlock_Misaligned(t *testing.T) {
	tests := []struct {
		name   string
		blocks [][]byte
	}{
		{name: "empty block", blocks: [][]byte{{}}},
		{name: "oversized block", blocks: [][]byte{testData(BlockSize + 1)}},
		{name: "block after short block", blocks: [][]byte{testData(10), testData(BlockSize)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := New()
			var err error
			for _, b := range tt.blocks {
				if err = acc.AddBlock(b); err != nil {
					break
				}
			}
			assert.ErrorIs(t, err, ErrMisalignedBlock)
		})
	}
}

func TestRootIndependentOfUpstreamBuffering(t *testing.T) {
	data := testData(3 * BlockSize)

	oneBuffer := NewWriter()
	_, err := oneBuffer.Write(data)
	require.NoError(t, err)
	want, err := oneBuffer.SumHex()
	require.NoError(t, err)

	manyBuffers := NewWriter()
	for chunk := data; len(chunk) > 0; {
		n := 1024
		if n > len(chunk) {
			n = len(chunk)
		}
		_, err := manyBuffers.Write(chunk[:n])
		require.NoError(t, err)
		chunk = chunk[n:]
	}
	got, err := manyBuffers.SumHex()
	require.NoError(t, err)

	assert.Equal(t, want, got)

	computed, err := Compute(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, computed)
}

func TestAddPart_MatchesCompute(t *testing.T) {
	data := testData(5*BlockSize + 123)

	acc := New()
	for part := data; len(part) > 0; {
		n := 2 * BlockSize
		if n > len(part) {
			n = len(part)
		}
		require.NoError(t, acc.AddPart(part[:n]))
		part = part[n:]
	}
	got, err := acc.SumHex()
	require.NoError(t, err)

	want, err := Compute(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
