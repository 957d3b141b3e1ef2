// Package session implements the voice session lifecycle as an explicit
// state machine: Idle, Connecting, and one Active state per receptionist
// mode. The machine owns the provider session handle and the audio pumps
// between the capture device, the provider, and the playback scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/internal/reception"
	"github.com/clinvox/clinvox/internal/store"
	"github.com/clinvox/clinvox/pkg/audio"
	"github.com/clinvox/clinvox/pkg/provider/s2s"
)

// State identifies one state of the session machine.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateActiveStaff   State = "active_staff"
	StateActivePatient State = "active_patient"
)

// activeState maps a receptionist mode to its Active state.
func activeState(mode reception.Mode) State {
	if mode == reception.ModePatient {
		return StateActivePatient
	}
	return StateActiveStaff
}

// Default lifecycle parameters.
const (
	defaultConnectTimeout = 15 * time.Second
	defaultCaptureRate    = 16000
	defaultPlaybackRate   = 24000
	defaultStaffVoice     = "Kore"
	defaultPatientVoice   = "Fenrir"
)

// Config wires a [Machine] to its collaborators.
type Config struct {
	// Provider opens S2S sessions against the realtime model.
	Provider s2s.Provider

	// Capturer delivers microphone frames while a session is active.
	Capturer audio.Capturer

	// Player consumes scheduled model audio while a session is active.
	Player audio.Player

	// Store backs the tool dispatcher's collaborators.
	Store store.Store

	// Navigator receives UI navigation side effects from staff tools. May be
	// nil.
	Navigator store.Navigator

	// Receptionist is the persona configuration for instruction templates.
	Receptionist reception.ReceptionistConfig

	// StaffVoice and PatientVoice select the provider voice per mode.
	// Defaults: "Kore" and "Fenrir".
	StaffVoice   string
	PatientVoice string

	// ConnectTimeout bounds dial plus setup acknowledgement. Default 15s.
	ConnectTimeout time.Duration

	// CaptureRate is the microphone sample rate in Hz, declared to the
	// provider so it decodes the sent PCM correctly. Default 16000.
	CaptureRate int

	// PlaybackRate is the model output sample rate in Hz. Default 24000.
	PlaybackRate int

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics records session and audio instruments. May be nil.
	Metrics *observe.Metrics

	// OnState is notified on every state transition. May be nil.
	OnState func(State)

	// OnLevel receives the RMS level of each captured frame. May be nil.
	OnLevel func(float64)

	// OnError receives at most one error per session attempt. May be nil.
	OnError func(error)
}

// live is the mutable state of one session attempt. A new live value is
// created per Start; the generation number invalidates async results that
// land after the attempt was torn down.
type live struct {
	gen       uint64
	mode      reception.Mode
	recCtx    *reception.Context
	scheduler *audio.Scheduler
	cancel    context.CancelFunc

	handle s2s.SessionHandle // set once connected
	active bool              // reached an Active state
}

// Machine is the session lifecycle controller. One voice session is live at
// a time; starting a new session tears down the previous one first.
//
// All exported methods are safe for concurrent use.
type Machine struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	current *live
}

// New creates a Machine in the Idle state.
func New(cfg Config) *Machine {
	if cfg.StaffVoice == "" {
		cfg.StaffVoice = defaultStaffVoice
	}
	if cfg.PatientVoice == "" {
		cfg.PatientVoice = defaultPatientVoice
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = defaultCaptureRate
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = defaultPlaybackRate
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Machine{cfg: cfg, log: log, state: StateIdle}
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetReceptionist replaces the persona used for sessions started after the
// call. An active session keeps the instructions it connected with.
func (m *Machine) SetReceptionist(rc reception.ReceptionistConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Receptionist = rc
}

// Start begins a new voice session in the given mode. Any session already
// connecting or active is torn down first and its verified-patient shadow
// cleared. The provider dial runs asynchronously; Start returns once the
// machine is in Connecting. Outcomes are reported through OnState and, on
// failure, exactly once through OnError.
func (m *Machine) Start(ctx context.Context, mode reception.Mode) error {
	if mode != reception.ModeStaff && mode != reception.ModePatient {
		return fmt.Errorf("session: unknown mode %q", mode)
	}

	// A fresh session never inherits the previous session's identity state.
	m.Stop()

	study, err := m.cfg.Store.ActiveStudy(ctx)
	if err != nil {
		return fmt.Errorf("session: load active study: %w", err)
	}

	recCtx := reception.NewContext(mode, m.cfg.Store, m.cfg.Navigator)
	dispatcher := reception.NewDispatcher(recCtx,
		reception.WithLogger(m.log),
		reception.WithMetrics(m.cfg.Metrics),
	)

	voice := m.cfg.StaffVoice
	if mode == reception.ModePatient {
		voice = m.cfg.PatientVoice
	}
	m.mu.Lock()
	persona := m.cfg.Receptionist
	m.mu.Unlock()
	sessCfg := s2s.SessionConfig{
		Voice:           voice,
		Instructions:    reception.Instructions(mode, persona, study, time.Now()),
		Tools:           reception.Declarations(),
		InputSampleRate: m.cfg.CaptureRate,
	}

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ConnectTimeout)

	m.mu.Lock()
	m.gen++
	s := &live{
		gen:       m.gen,
		mode:      mode,
		recCtx:    recCtx,
		scheduler: audio.NewScheduler(m.cfg.PlaybackRate),
		cancel:    cancel,
	}
	m.current = s
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.connect(dialCtx, s, sessCfg, dispatcher)
	return nil
}

// Stop tears down the current session, if any, and returns the machine to
// Idle. Safe to call at any time and from any state; repeated calls are
// no-ops.
func (m *Machine) Stop() {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s != nil {
		m.teardown(s, nil)
	}
}

// connect dials the provider and waits for the setup acknowledgement, then
// promotes the session to Active. Runs in its own goroutine; all outcomes
// are routed through teardown so a Stop racing the dial wins cleanly.
func (m *Machine) connect(ctx context.Context, s *live, cfg s2s.SessionConfig, dispatcher *reception.Dispatcher) {
	defer s.cancel()
	start := time.Now()

	handle, err := m.cfg.Provider.Connect(ctx, cfg)
	if err != nil {
		m.recordConnect(s.mode, connectStatus(ctx, err))
		m.teardown(s, fmt.Errorf("session: connect: %w", err))
		return
	}

	handle.OnToolCall(func(calls []s2s.ToolCall) []s2s.ToolResult {
		return dispatcher.Dispatch(context.Background(), calls)
	})

	select {
	case <-handle.Ready():
	case <-ctx.Done():
		_ = handle.Close()
		m.recordConnect(s.mode, "timeout")
		m.teardown(s, fmt.Errorf("session: connect: %w", ctx.Err()))
		return
	}

	m.mu.Lock()
	if m.current != s || s.gen != m.gen {
		// Stopped while the dial was in flight.
		m.mu.Unlock()
		_ = handle.Close()
		return
	}
	s.handle = handle
	s.active = true
	m.setStateLocked(activeState(s.mode))
	m.mu.Unlock()

	m.recordConnect(s.mode, "ok")
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ConnectDuration.Record(context.Background(), time.Since(start).Seconds())
		m.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	}
	m.log.Info("voice session active", "mode", s.mode, "voice", cfg.Voice)

	if err := m.startPumps(s, handle); err != nil {
		m.teardown(s, err)
	}
}

// startPumps connects the audio pipeline: microphone frames to the provider
// and provider audio to the playback scheduler.
func (m *Machine) startPumps(s *live, handle s2s.SessionHandle) error {
	if err := m.cfg.Player.StartPlayback(s.scheduler); err != nil {
		return fmt.Errorf("session: start playback: %w", err)
	}

	err := m.cfg.Capturer.StartCapture(func(f audio.Frame) {
		if m.cfg.OnLevel != nil {
			m.cfg.OnLevel(f.Level)
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.AudioFramesSent.Add(context.Background(), 1)
		}
		if err := handle.SendAudio(f.Data); err != nil {
			// Off the audio thread: teardown stops this very capture stream.
			go m.teardown(s, fmt.Errorf("session: send audio: %w", err))
		}
	})
	if err != nil {
		return fmt.Errorf("session: start capture: %w", err)
	}

	// Barge-in: drop queued playback so the model's next utterance starts
	// immediately.
	go func() {
		for range handle.Interrupts() {
			s.scheduler.Flush()
		}
	}()

	// Playback pump. Audio closing is the session-over signal; Err reports
	// whether it ended cleanly.
	go func() {
		for chunk := range handle.Audio() {
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.AudioFramesReceived.Add(context.Background(), 1)
			}
			s.scheduler.Schedule(chunk)
		}
		if err := handle.Err(); err != nil {
			m.teardown(s, fmt.Errorf("session: transport: %w", err))
			return
		}
		m.teardown(s, nil)
	}()

	return nil
}

// teardown dismantles one session attempt and returns the machine to Idle.
// Only the caller that still owns the attempt performs the work, so a failure
// is surfaced at most once and a dial cancelled by Stop surfaces nothing.
func (m *Machine) teardown(s *live, err error) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	wasActive := s.active
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("voice session failed", "mode", s.mode, "error", err)
		if m.cfg.OnError != nil {
			m.cfg.OnError(err)
		}
	}

	s.cancel()
	_ = m.cfg.Capturer.StopCapture()
	_ = m.cfg.Player.StopPlayback()
	s.scheduler.Flush()
	if s.handle != nil {
		_ = s.handle.Close()
	}
	s.recCtx.Clear()

	if wasActive && m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	m.log.Info("voice session closed", "mode", s.mode)
}

// setStateLocked updates the state and notifies the observer. Called with
// m.mu held; OnState observers must not call back into the machine
// synchronously.
func (m *Machine) setStateLocked(next State) {
	if m.state == next {
		return
	}
	m.state = next
	if m.cfg.OnState != nil {
		m.cfg.OnState(next)
	}
}

// recordConnect increments the session connect counter, if metrics are wired.
func (m *Machine) recordConnect(mode reception.Mode, status string) {
	if m.cfg.Metrics == nil {
		return
	}
	m.cfg.Metrics.RecordSessionConnect(context.Background(), string(mode), status)
}

// connectStatus classifies a dial failure for the connect counter.
func connectStatus(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "timeout"
	}
	return "error"
}
