package wasm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PrintEvent is one piece of output produced by a print host function.
type PrintEvent struct {
	InstanceID string
	Function   string
	Text       string
}

// Recorder observes print events in guest call order.
type Recorder interface {
	RecordPrint(PrintEvent)
}

// EventLog is a Recorder that keeps every event in memory.
type EventLog struct {
	mu     sync.Mutex
	events []PrintEvent
}

// RecordPrint appends the event.
func (l *EventLog) RecordPrint(ev PrintEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []PrintEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PrintEvent(nil), l.events...)
}

// ForInstance returns the events produced by one instance.
func (l *EventLog) ForInstance(id string) []PrintEvent {
	var out []PrintEvent
	for _, ev := range l.Events() {
		if ev.InstanceID == id {
			out = append(out, ev)
		}
	}
	return out
}

// HostFunctions implements the standard env imports:
// print_i32, print_f32, print_string, read_i32, print_char and print_num.
type HostFunctions struct {
	logger   *zap.Logger
	out      zapcore.WriteSyncer
	input    InputSource
	labels   bool
	recorder Recorder
}

// HostOption configures HostFunctions.
type HostOption func(*HostFunctions)

// WithLabels prefixes line output with the value type, e.g. "[Output Int]: 7".
func WithLabels(enabled bool) HostOption {
	return func(h *HostFunctions) { h.labels = enabled }
}

// WithRecorder sends every print event to r as well as to the output.
func WithRecorder(r Recorder) HostOption {
	return func(h *HostFunctions) { h.recorder = r }
}

// NewHostFunctions creates the standard host functions writing to out and
// reading integers from input. Writes to out are serialized so output from
// concurrent instances never interleaves within a line.
func NewHostFunctions(logger *zap.Logger, out io.Writer, input InputSource, opts ...HostOption) *HostFunctions {
	if input == nil {
		input = NewQueueInput()
	}
	h := &HostFunctions{
		logger: logger.With(zap.String("component", "wasm-host")),
		out:    zapcore.Lock(zapcore.AddSync(out)),
		input:  input,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the standard functions to t under module
// (DefaultHostModule when empty).
func (h *HostFunctions) Register(t *HostTable, module string) error {
	return multierr.Combine(
		t.Register(module, "print_i32", Sig(KindVoid, KindI32), h.printI32),
		t.Register(module, "print_f32", Sig(KindVoid, KindF32), h.printF32),
		t.Register(module, "print_string", Sig(KindVoid, KindPointer), h.printString),
		t.Register(module, "read_i32", Sig(KindI32), h.readI32),
		t.Register(module, "print_char", Sig(KindVoid, KindI32), h.printChar),
		t.Register(module, "print_num", Sig(KindVoid, KindI32), h.printNum),
	)
}

// printI32 prints an integer followed by a newline.
func (h *HostFunctions) printI32(ctx context.Context, call *HostCall) (Value, error) {
	return Void, h.emit(call, "[Output Int]:", call.Args[0].String(), true)
}

// printF32 prints a float followed by a newline.
func (h *HostFunctions) printF32(ctx context.Context, call *HostCall) (Value, error) {
	return Void, h.emit(call, "[Output Float]:", call.Args[0].String(), true)
}

// printString prints the zero-terminated string at the pointer argument.
func (h *HostFunctions) printString(ctx context.Context, call *HostCall) (Value, error) {
	s, err := call.Memory().ReadCString(call.Args[0].Pointer())
	if err != nil {
		return Void, err
	}
	return Void, h.emit(call, "[Output String]:", strings.ToValidUTF8(string(s), string(utf8.RuneError)), true)
}

// readI32 returns the next integer from the input source.
func (h *HostFunctions) readI32(ctx context.Context, call *HostCall) (Value, error) {
	v, err := h.input.ReadI32(ctx)
	if err != nil {
		return Void, err
	}
	h.logger.Debug("read_i32",
		zap.String("instance_id", call.Instance.ID()),
		zap.Int32("value", v),
	)
	return I32(v), nil
}

// printChar writes a single character without a separator.
func (h *HostFunctions) printChar(ctx context.Context, call *HostCall) (Value, error) {
	r := rune(call.Args[0].I32())
	if !utf8.ValidRune(r) {
		r = utf8.RuneError
	}
	return Void, h.emit(call, "", string(r), false)
}

// printNum writes a number without a separator. It accepts whichever
// numeric kind the table registered it with.
func (h *HostFunctions) printNum(ctx context.Context, call *HostCall) (Value, error) {
	return Void, h.emit(call, "", call.Args[0].String(), false)
}

// emit writes text, optionally labelled and newline terminated, and
// records it.
func (h *HostFunctions) emit(call *HostCall, label, text string, newline bool) error {
	out := text
	if newline {
		if h.labels {
			out = label + " " + out
		}
		out += "\n"
	}
	if _, err := io.WriteString(h.out, out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if h.recorder != nil {
		h.recorder.RecordPrint(PrintEvent{
			InstanceID: call.Instance.ID(),
			Function:   call.Function.Name,
			Text:       text,
		})
	}
	return nil
}

// Sync flushes the output.
func (h *HostFunctions) Sync() error {
	return h.out.Sync()
}
