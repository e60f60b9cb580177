// Package audio converts, concatenates and probes audio clips through
// external ffmpeg tooling, and computes chapter timelines for artifacts.
package audio

import "encoding/binary"

// WrapPCM prepends a RIFF/WAVE header to raw little-endian PCM samples so
// downstream tools can consume provider output that arrives headerless.
func WrapPCM(samples []byte, sampleRate, bitsPerSample, channels int) []byte {
	const headerSize = 44

	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(samples)

	header := make([]byte, headerSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(headerSize-8+dataSize))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	return append(header, samples...)
}
