// Package s2s defines the Provider interface for speech-to-speech (S2S)
// backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session —
// bypassing the separate STT → LLM → TTS pipeline entirely. The reception
// engine drives one session at a time over such a provider.
//
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// channel that carries audio and tool calls concurrently. Sessions are
// designed to be long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"encoding/json"
)

// ToolDeclaration describes a function the model may invoke during a session.
// Parameters is a JSON-schema object in the provider's wire format.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a single function invocation requested by the model. Calls
// arrive in batches; ID correlates each call with its result.
type ToolCall struct {
	// ID is the provider-assigned correlation id for this call.
	ID string

	// Name is the declared tool name.
	Name string

	// Args is the JSON-encoded argument object.
	Args json.RawMessage
}

// ToolResult is the outcome of one ToolCall. ID and Name must echo the
// originating call so the provider can correlate them.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// BatchToolHandler is invoked once per tool-call batch from the model. It
// must return exactly one result per call, in any order, correlated by ID.
// The session sends all results back to the provider in a single message.
//
// The handler is called from the session's internal receive goroutine —
// implementations must not call blocking session methods from within the
// handler to avoid deadlocks.
type BatchToolHandler func(calls []ToolCall) []ToolResult

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the provider voice name used for synthesised speech output.
	Voice string

	// Instructions is the system-level prompt that defines the assistant's
	// persona and behavioural constraints.
	Instructions string

	// Tools is the set of tool declarations offered to the model for the
	// lifetime of the session.
	Tools []ToolDeclaration

	// InputSampleRate is the sample rate in Hz of the PCM chunks delivered
	// via [SessionHandle.SendAudio]. Zero means the provider default
	// (16000 for Gemini Live).
	InputSampleRate int
}

// Capabilities describes static properties of the S2S provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// ContextWindow is the maximum token count (or provider-equivalent unit)
	// the model can maintain across the session.
	ContextWindow int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that
// test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the voice pipeline — every method must
// return quickly. Audio I/O is channel-based to avoid blocking the caller's
// audio thread. All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM audio chunk to the provider for processing.
	// The chunk must match the audio format negotiated when the session was
	// opened. Returns an error if the session is closed or if the provider
	// cannot accept the chunk.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel that emits raw PCM audio byte slices
	// as the model synthesises its spoken response. The channel is closed when
	// the session ends or when a mid-stream error occurs. After the channel
	// closes, call [SessionHandle.Err] to check whether the session ended
	// cleanly. Consumers must drain this channel promptly to prevent
	// backpressure from stalling the provider's receive loop.
	Audio() <-chan []byte

	// Ready returns a channel that is closed once the provider has
	// acknowledged session setup and the model is listening. Callers gate
	// their connect timeout on this signal.
	Ready() <-chan struct{}

	// Interrupts returns a channel that receives a notification whenever the
	// provider reports the model's turn was interrupted (barge-in). Consumers
	// should flush any buffered playback. Notifications may be coalesced.
	// The channel is closed alongside Audio when the session ends, so
	// consumers may range over it.
	Interrupts() <-chan struct{}

	// Err returns the error that caused the Audio channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// OnToolCall registers the handler invoked for each tool-call batch. Only
	// one handler can be active at a time; calling OnToolCall again replaces
	// the previous handler. Passing nil clears the handler, in which case
	// tool-call batches are dropped.
	OnToolCall(handler BatchToolHandler)

	// Close terminates the session, releases all resources, and closes the
	// Audio and Interrupts channels. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new S2S session with the given configuration.
	// The returned SessionHandle accepts audio immediately; readiness of the
	// model side is signalled via [SessionHandle.Ready].
	//
	// Returns an error if the session cannot be established (e.g.,
	// authentication failure or ctx already cancelled). The caller owns the
	// SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's underlying
	// model.
	Capabilities() Capabilities
}
