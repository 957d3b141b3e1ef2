// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled S2S sessions.
// Use Session to drive the audio stream, readiness and interrupt signals, and
// inspect which methods were invoked by the session machine.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.SignalReady()
package mock

import (
	"context"
	"sync"

	"github.com/clinvox/clinvox/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new default Session with buffered channels.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectHold, if non-nil, blocks Connect until the channel is closed or
	// the caller's context is cancelled. Used to exercise dial timeouts.
	ConnectHold <-chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	hold := p.ConnectHold
	connectErr := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of s2s.SessionHandle.
// Callers feed AudioCh and InterruptsCh directly, call SignalReady to
// simulate the provider's setup ack, and call EndAudio to simulate the
// transport ending the stream.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Send on it to feed model
	// audio; end the stream via EndAudio, never by closing it directly.
	AudioCh chan []byte

	// ReadyCh is the channel returned by Ready(). Close it via SignalReady.
	ReadyCh chan struct{}

	// InterruptsCh is the channel returned by Interrupts(). Send on it to
	// simulate barge-in; Close closes it the way the real transport does.
	InterruptsCh chan struct{}

	// toolHandler is the currently registered BatchToolHandler.
	toolHandler s2s.BatchToolHandler

	// errVal is returned by Err. Set via SetErr.
	errVal error

	readyOnce      sync.Once
	audioOnce      sync.Once
	interruptsOnce sync.Once

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnToolCallSetCount is the number of times OnToolCall was called.
	OnToolCallSetCount int
}

// NewSession creates a Session with buffered channels suitable for most tests.
func NewSession() *Session {
	return &Session{
		AudioCh:      make(chan []byte, 64),
		ReadyCh:      make(chan struct{}),
		InterruptsCh: make(chan struct{}, 4),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// Ready returns ReadyCh.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReadyCh
}

// SignalReady closes ReadyCh, simulating the provider's setup ack. Safe to
// call more than once.
func (s *Session) SignalReady() {
	s.readyOnce.Do(func() { close(s.ReadyCh) })
}

// Interrupts returns InterruptsCh.
func (s *Session) Interrupts() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InterruptsCh
}

// EndAudio closes AudioCh, simulating the transport ending the session's
// audio stream. Safe to call more than once; Close also ends the stream.
func (s *Session) EndAudio() {
	s.audioOnce.Do(func() { close(s.AudioCh) })
}

// Err returns the value set via SetErr, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// SetErr sets the error returned by Err. Thread-safe.
func (s *Session) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errVal = err
}

// OnToolCall stores the handler and increments OnToolCallSetCount.
func (s *Session) OnToolCall(handler s2s.BatchToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
	s.OnToolCallSetCount++
}

// Handler returns the currently registered BatchToolHandler. Thread-safe.
// Useful in tests to invoke the handler directly with a scripted batch.
func (s *Session) Handler() s2s.BatchToolHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolHandler
}

// Close records the call and, like the real transport, closes the audio
// and interrupt channels so consumer pumps terminate. Returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()

	s.EndAudio()
	s.interruptsOnce.Do(func() { close(s.InterruptsCh) })
	return err
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.CloseCallCount = 0
	s.OnToolCallSetCount = 0
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
