// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio validates and segments raw PCM16 byte streams into
// fixed-size base64 chunks for the upstream realtime protocol's
// input_audio_buffer.append frames. Every function here is pure and
// safe for concurrent use — no shared state, no I/O.
package audio

import (
	"encoding/base64"
	"fmt"

	"github.com/rapidaai/sonju/internal/brokererr"
)

// DefaultChunkSize is the byte size of every chunk except possibly the
// last, matching spec.md §4.1's chunk(bytes, size=12288).
const DefaultChunkSize = 12288

// LooksLikePCM16 reports whether b could plausibly be a PCM16 sample
// buffer: non-empty and an even number of bytes (16-bit sample
// alignment). It does not and cannot validate the audio content itself.
func LooksLikePCM16(b []byte) bool {
	return len(b) > 0 && len(b)%2 == 0
}

// Chunk splits b into contiguous, in-order byte slices of exactly size
// bytes, except the final slice which may be smaller. An empty buffer
// returns an empty (non-nil) slice of chunks. A non-empty buffer whose
// length is odd, or whose length is less than 2, is rejected with
// brokererr.ErrInvalidAudio — PCM16 samples are always 2-byte aligned.
func Chunk(b []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if len(b) == 0 {
		return [][]byte{}, nil
	}
	if len(b) < 2 || len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of 2", brokererr.ErrInvalidAudio, len(b))
	}

	chunks := make([][]byte, 0, (len(b)+size-1)/size)
	for offset := 0; offset < len(b); offset += size {
		end := offset + size
		if end > len(b) {
			end = len(b)
		}
		chunk := make([]byte, end-offset)
		copy(chunk, b[offset:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// ToBase64Chunks segments b exactly as Chunk does, then independently
// base64-encodes each chunk for direct use as an
// input_audio_buffer.append payload.
func ToBase64Chunks(b []byte, size int) ([]string, error) {
	chunks, err := Chunk(b, size)
	if err != nil {
		return nil, err
	}
	encoded := make([]string, len(chunks))
	for i, c := range chunks {
		encoded[i] = base64.StdEncoding.EncodeToString(c)
	}
	return encoded, nil
}
