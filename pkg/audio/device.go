package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Capturer delivers microphone audio as fixed-size PCM16 frames. Implemented
// by [Device] for real hardware and by test fakes in session tests.
type Capturer interface {
	// StartCapture begins delivering frames to onFrame. The callback runs on
	// the device's audio thread and must not block.
	StartCapture(onFrame func(Frame)) error

	// StopCapture stops the capture stream. Safe to call when not capturing.
	StopCapture() error
}

// Source is the pull side of speaker output. ReadPCM fills buf with int16 PCM
// and must zero-fill any remainder; it is called from the device callback.
type Source interface {
	ReadPCM(buf []byte)
}

// Player consumes scheduled audio for speaker output.
type Player interface {
	// StartPlayback begins pulling audio from src until StopPlayback.
	StartPlayback(src Source) error

	// StopPlayback stops the playback stream. Safe to call when not playing.
	StopPlayback() error
}

// DeviceConfig holds the audio formats for a [Device].
type DeviceConfig struct {
	// CaptureRate is the microphone sample rate in Hz. Default 16000.
	CaptureRate int

	// PlaybackRate is the speaker sample rate in Hz. Default 24000.
	PlaybackRate int

	// FrameSamples is the number of samples accumulated per emitted capture
	// frame. Default 4096.
	FrameSamples int
}

const (
	defaultCaptureRate  = 16000
	defaultPlaybackRate = 24000
	defaultFrameSamples = 4096

	// devicePeriodMs is the miniaudio period size. Small periods keep the
	// capture-to-transport latency low.
	devicePeriodMs = 20

	// fallbackPlaybackRate is used when the hardware refuses the configured
	// playback rate. 48 kHz is the native rate of effectively every consumer
	// device, so a retry at it succeeds where 24 kHz does not.
	fallbackPlaybackRate = 48000
)

// Device owns the miniaudio context and the capture and playback devices.
// Capture produces mono float32 samples that are accumulated into
// FrameSamples-sized frames, levelled, and quantised to PCM16 with
// saturation. Playback pulls int16 PCM from a [Source].
//
// Device implements [Capturer] and [Player]. Not safe for concurrent
// Start/Stop calls; the session state machine serialises lifecycle access.
type Device struct {
	cfg      DeviceConfig
	audioCtx *malgo.AllocatedContext

	mu       sync.Mutex
	capture  *malgo.Device
	playback *malgo.Device
}

var _ Capturer = (*Device)(nil)
var _ Player = (*Device)(nil)

// NewDevice initialises the miniaudio context. Call Close when done.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = defaultCaptureRate
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = defaultPlaybackRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = defaultFrameSamples
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	return &Device{cfg: cfg, audioCtx: audioCtx}, nil
}

// StartCapture opens the default capture device and begins delivering
// accumulated frames to onFrame.
func (d *Device) StartCapture(onFrame func(Frame)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture != nil {
		return fmt.Errorf("audio: capture already started")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = devicePeriodMs
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(d.cfg.CaptureRate)
	deviceConfig.Alsa.NoMMap = 1

	acc := newFrameAccumulator(d.cfg.CaptureRate, d.cfg.FrameSamples, onFrame)

	dev, err := malgo.InitDevice(d.audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, frameCount uint32) {
			acc.push(decodeF32(inputSamples, int(frameCount)))
		},
	})
	if err != nil {
		return fmt.Errorf("audio: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("audio: start capture device: %w", err)
	}

	d.capture = dev
	return nil
}

// StopCapture stops and releases the capture device.
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil
	}
	_ = d.capture.Stop()
	d.capture.Uninit()
	d.capture = nil
	return nil
}

// StartPlayback opens the default playback device and begins pulling int16
// PCM from src. When the hardware refuses the configured rate, the device is
// reopened at [fallbackPlaybackRate] with the stream resampled on the way
// out.
func (d *Device) StartPlayback(src Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.playback != nil {
		return fmt.Errorf("audio: playback already started")
	}

	dev, err := d.openPlayback(d.cfg.PlaybackRate, src)
	if err != nil && d.cfg.PlaybackRate != fallbackPlaybackRate {
		dev, err = d.openPlayback(fallbackPlaybackRate,
			newResampleSource(src, d.cfg.PlaybackRate, fallbackPlaybackRate))
	}
	if err != nil {
		return err
	}

	d.playback = dev
	return nil
}

func (d *Device) openPlayback(rate int, src Source) (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.PeriodSizeInMilliseconds = devicePeriodMs
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(rate)
	deviceConfig.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(d.audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, _ []byte, _ uint32) {
			src.ReadPCM(outputSamples)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init playback device at %d Hz: %w", rate, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("audio: start playback device at %d Hz: %w", rate, err)
	}
	return dev, nil
}

// StopPlayback stops and releases the playback device.
func (d *Device) StopPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.playback == nil {
		return nil
	}
	_ = d.playback.Stop()
	d.playback.Uninit()
	d.playback = nil
	return nil
}

// Close stops any active streams and releases the miniaudio context.
func (d *Device) Close() error {
	_ = d.StopCapture()
	_ = d.StopPlayback()
	return d.audioCtx.Uninit()
}

// resampleSource adapts a [Source] producing PCM at srcRate to a device
// opened at dstRate. Each read pulls just enough source samples to fill the
// device buffer after resampling. Reads happen sequentially on the device
// callback thread, so the scratch buffer needs no locking.
type resampleSource struct {
	src     Source
	srcRate int
	dstRate int
	scratch []byte
}

func newResampleSource(src Source, srcRate, dstRate int) *resampleSource {
	return &resampleSource{src: src, srcRate: srcRate, dstRate: dstRate}
}

func (r *resampleSource) ReadPCM(buf []byte) {
	dstSamples := len(buf) / 2
	if dstSamples == 0 {
		return
	}
	// Rounding up guarantees the resampled output covers the whole device
	// buffer; any surplus sample is dropped.
	srcSamples := (dstSamples*r.srcRate + r.dstRate - 1) / r.dstRate
	need := srcSamples * 2
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	r.scratch = r.scratch[:need]
	r.src.ReadPCM(r.scratch)

	out := ResampleMono16(r.scratch, r.srcRate, r.dstRate)
	n := copy(buf, out)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

// decodeF32 interprets raw device bytes as native-endian float32 samples.
func decodeF32(data []byte, frameCount int) []float32 {
	n := len(data) / 4
	if frameCount > 0 && frameCount < n {
		n = frameCount
	}
	out := make([]float32, n)
	for i := range n {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// frameAccumulator buffers float32 capture samples until a full frame is
// available, then levels and quantises it.
type frameAccumulator struct {
	sampleRate   int
	frameSamples int
	onFrame      func(Frame)

	buf     []float32
	started time.Time
}

func newFrameAccumulator(sampleRate, frameSamples int, onFrame func(Frame)) *frameAccumulator {
	return &frameAccumulator{
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		onFrame:      onFrame,
		buf:          make([]float32, 0, frameSamples),
		started:      time.Now(),
	}
}

// push appends samples and emits complete frames. Runs on the audio thread.
func (a *frameAccumulator) push(samples []float32) {
	a.buf = append(a.buf, samples...)
	for len(a.buf) >= a.frameSamples {
		frame := a.buf[:a.frameSamples]
		a.onFrame(Frame{
			Data:       FloatToPCM16(frame),
			SampleRate: a.sampleRate,
			Channels:   1,
			Level:      Level(frame),
			Timestamp:  time.Since(a.started),
		})
		a.buf = append(a.buf[:0], a.buf[a.frameSamples:]...)
	}
}
