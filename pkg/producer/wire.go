// Copyright 2026 Fluxlog, Inc.

package producer

import (
	"encoding/binary"
	"fmt"

	"github.com/fluxlog/fluxlog/pkg/compression"
)

// EncodeRecords serializes records as length-prefixed key/value pairs, the
// unit the batch codec compresses. A nil key and an empty key encode
// identically; the replication engine treats record bytes as opaque either
// way.
func EncodeRecords(records []Record) []byte {
	size := 0
	for _, r := range records {
		size += 8 + len(r.Key) + len(r.Value)
	}

	out := make([]byte, 0, size)
	var length [4]byte
	for _, r := range records {
		binary.BigEndian.PutUint32(length[:], uint32(len(r.Key)))
		out = append(out, length[:]...)
		out = append(out, r.Key...)
		binary.BigEndian.PutUint32(length[:], uint32(len(r.Value)))
		out = append(out, length[:]...)
		out = append(out, r.Value...)
	}
	return out
}

// DecodeRecords reverses EncodeRecords.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	for len(data) > 0 {
		key, rest, err := readChunk(data)
		if err != nil {
			return nil, err
		}
		value, rest, err := readChunk(rest)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Key: key, Value: value})
		data = rest
	}
	return records, nil
}

func readChunk(data []byte) (chunk, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("producer: truncated record frame")
	}
	n := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("producer: record frame shorter than its length prefix")
	}
	return data[:n:n], data[n:], nil
}

// Sealed returns a copy of p with Records folded into a compressed Payload
// when a codec is set. With compression none it returns p unchanged, so
// the fast path never copies.
func (p PartitionProduce) Sealed() (PartitionProduce, error) {
	if p.Compression == compression.None {
		return p, nil
	}

	payload, err := compression.Compress(p.Compression, EncodeRecords(p.Records))
	if err != nil {
		return PartitionProduce{}, fmt.Errorf("producer: compress batch: %w", err)
	}
	p.Payload = payload
	p.Records = nil
	return p, nil
}

// Opened reverses Sealed, restoring Records from Payload.
func (p PartitionProduce) Opened() (PartitionProduce, error) {
	if p.Compression == compression.None || p.Payload == nil {
		return p, nil
	}

	raw, err := compression.Decompress(p.Compression, p.Payload)
	if err != nil {
		return PartitionProduce{}, fmt.Errorf("producer: decompress batch: %w", err)
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		return PartitionProduce{}, err
	}
	p.Records = records
	p.Payload = nil
	return p, nil
}
