package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// QuantizeSample converts a floating-point sample in [-1, 1] to a signed
// 16-bit PCM sample via scale-and-clamp. Values outside the range are clamped,
// so 1.0 maps to 32767 and -1.0 maps to -32768.
func QuantizeSample(s float64) int16 {
	v := s * 32768
	if v >= 32767 {
		return 32767
	}
	if v <= -32768 {
		return -32768
	}
	return int16(v)
}

// EncodePCM16 serializes samples as little-endian 16-bit PCM.
func EncodePCM16(samples []int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

// DecodePCM16 parses little-endian 16-bit PCM back into samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm data has odd length %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples, nil
}

// EncodePayload wraps a binary frame in the text-safe transport encoding.
func EncodePayload(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return data, nil
}
