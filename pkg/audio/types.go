// Package audio implements the capture and playback pipeline for voice
// sessions: PCM16 conversion with saturation, RMS level metering, a gapless
// playback scheduler, and a miniaudio-backed device layer.
package audio

import "time"

// Frame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the microphone,
// levelled for the UI meter, and encoded for the realtime transport.
type Frame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for model input, 24000 for model output).
	SampleRate int

	// Channels: always 1 for the voice reception pipeline.
	Channels int

	// Level is the RMS amplitude of the frame in [0, 1], computed before
	// quantisation. Drives the speaking-level indicator.
	Level float64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
