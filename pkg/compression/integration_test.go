// Copyright 2026 Fluxlog, Inc.

package compression

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Round-trips a serialized record batch through every codec, the way the
// partition producer compresses an accumulated batch before handing it to
// the transport.
func TestBatchPayloadRoundTrip(t *testing.T) {
	var payload bytes.Buffer
	for i := 0; i < 200; i++ {
		record := []byte(`{"level":"info","service":"checkout","message":"order accepted"}`)
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(record)))
		payload.Write(length[:])
		payload.Write(record)
	}
	original := payload.Bytes()

	for _, codec := range []Type{None, GZIP, Snappy, LZ4, ZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			compressed, err := Compress(codec, original)
			require.NoError(t, err)

			if codec != None {
				assert.Less(t, len(compressed), len(original),
					"repetitive record payloads must shrink under %s", codec)
			}

			decompressed, err := Decompress(codec, compressed)
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)
		})
	}
}

// Incompressible payloads still round-trip, they just don't shrink.
func TestIncompressiblePayloadRoundTrip(t *testing.T) {
	data := make([]byte, 10000)
	rand.New(rand.NewSource(1)).Read(data)

	for _, codec := range []Type{None, GZIP, Snappy, LZ4, ZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			compressed, err := Compress(codec, data)
			require.NoError(t, err)

			decompressed, err := Decompress(codec, compressed)
			require.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestEmptyPayload(t *testing.T) {
	for _, codec := range []Type{None, GZIP, Snappy, LZ4, ZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			compressed, err := Compress(codec, []byte{})
			require.NoError(t, err)

			decompressed, err := Decompress(codec, compressed)
			require.NoError(t, err)
			assert.Empty(t, decompressed)
		})
	}
}
