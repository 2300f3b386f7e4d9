// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

// Chunk is one contiguous byte range of the source file, uploaded
// independently of its siblings. Index defines the final assembly
// order.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
}

// End returns the exclusive end offset of the chunk.
func (c Chunk) End() int64 {
	return c.Offset + c.Length
}

// Plan splits size bytes into chunkSize-sized chunks. Chunk i covers
// [i*chunkSize, min((i+1)*chunkSize, size)); the last chunk may be
// shorter. Planning is deterministic: the same inputs always produce
// the same sequence.
func Plan(size, chunkSize int64) []Chunk {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	n := int((size + chunkSize - 1) / chunkSize)
	chunks := make([]Chunk, n)
	for i := range chunks {
		offset := int64(i) * chunkSize
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		chunks[i] = Chunk{Index: i, Offset: offset, Length: length}
	}
	return chunks
}
