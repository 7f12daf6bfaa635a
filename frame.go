package stomp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Header is a single name/value pair, kept to preserve first-occurrence
// ordering on a Frame (needed for deterministic replay() and for the
// first-occurrence-wins duplicate rule on 1.1 receive).
type Header struct {
	Name  string
	Value string
}

// Headers is an insertion-ordered header list. The zero value is an empty
// header set.
type Headers struct {
	pairs []Header
	index map[string]int
}

// NewHeaders builds a Headers set from name/value pairs, in order.
func NewHeaders(pairs ...Header) Headers {
	h := Headers{}
	for _, p := range pairs {
		h.Set(p.Name, p.Value)
	}
	return h
}

// Get returns the first value recorded for name.
func (h Headers) Get(name string) (string, bool) {
	if h.index == nil {
		return "", false
	}
	i, ok := h.index[name]
	if !ok {
		return "", false
	}
	return h.pairs[i].Value, true
}

// GetDefault returns the header value, or def if absent.
func (h Headers) GetDefault(name, def string) string {
	if v, ok := h.Get(name); ok {
		return v
	}
	return def
}

// Set assigns name to value, overwriting it if already present, appending
// otherwise. Existing insertion position is kept on overwrite.
func (h *Headers) Set(name, value string) {
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if i, ok := h.index[name]; ok {
		h.pairs[i].Value = value
		return
	}
	h.index[name] = len(h.pairs)
	h.pairs = append(h.pairs, Header{Name: name, Value: value})
}

// SetFirstOccurrence records name:value only if name is not already present
// — the rule the STOMP 1.1 parser uses for duplicate headers on receive.
func (h *Headers) SetFirstOccurrence(name, value string) {
	if _, ok := h.Get(name); ok {
		return
	}
	h.Set(name, value)
}

// Del removes name if present.
func (h *Headers) Del(name string) {
	if h.index == nil {
		return
	}
	i, ok := h.index[name]
	if !ok {
		return
	}
	h.pairs = append(h.pairs[:i], h.pairs[i+1:]...)
	delete(h.index, name)
	for n, idx := range h.index {
		if idx > i {
			h.index[n] = idx - 1
		}
	}
}

// Len reports the number of distinct headers.
func (h Headers) Len() int { return len(h.pairs) }

// Pairs returns the headers in insertion order. The returned slice must
// not be mutated by the caller.
func (h Headers) Pairs() []Header { return h.pairs }

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	out := Headers{pairs: make([]Header, len(h.pairs)), index: make(map[string]int, len(h.index))}
	copy(out.pairs, h.pairs)
	for k, v := range h.index {
		out.index[k] = v
	}
	return out
}

// Equal reports whether h and other hold the same name/value pairs,
// irrespective of order (Frame equality is structural per spec §3, and
// header order is an implementation detail of replay fidelity, not of
// frame identity).
func (h Headers) Equal(other Headers) bool {
	if h.Len() != other.Len() {
		return false
	}
	for _, p := range h.pairs {
		v, ok := other.Get(p.Name)
		if !ok || v != p.Value {
			return false
		}
	}
	return true
}

// Frame is the in-memory representation of a STOMP frame: a command, an
// ordered header set, and a body.
type Frame struct {
	Command string
	Headers Headers
	Body    []byte
}

// NewFrame builds a frame with no headers and no body.
func NewFrame(command string) *Frame {
	return &Frame{Command: command}
}

// SetBody sets the body and stamps a content-length header sized to it.
// Use this whenever the body may contain embedded NUL bytes; callers that
// know the body is NUL-free and want the broker to delimiter-scan the
// body instead may set Body directly without a content-length header.
func (f *Frame) SetBody(body []byte) {
	f.Body = body
	f.Headers.Set(HeaderContentLength, strconv.Itoa(len(body)))
}

// Equal reports structural equality: same command, same headers (as a
// set), same body bytes.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.Command != other.Command {
		return false
	}
	if !f.Headers.Equal(other.Headers) {
		return false
	}
	if len(f.Body) != len(other.Body) {
		return false
	}
	for i := range f.Body {
		if f.Body[i] != other.Body[i] {
			return false
		}
	}
	return true
}

// WriteTo encodes f onto w in STOMP wire format: command line, headers in
// insertion order, the blank line, the body, and the terminating NUL.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	var n int64
	write := func(p []byte) error {
		k, err := w.Write(p)
		n += int64(k)
		return err
	}
	if err := write([]byte(f.Command)); err != nil {
		return n, err
	}
	if err := write([]byte{LineDelimiter}); err != nil {
		return n, err
	}
	for _, h := range f.Headers.Pairs() {
		if err := write([]byte(fmt.Sprintf("%s:%s", h.Name, h.Value))); err != nil {
			return n, err
		}
		if err := write([]byte{LineDelimiter}); err != nil {
			return n, err
		}
	}
	if err := write([]byte{LineDelimiter}); err != nil {
		return n, err
	}
	if err := write(f.Body); err != nil {
		return n, err
	}
	if err := write([]byte{FrameDelimiter}); err != nil {
		return n, err
	}
	return n, nil
}

// Bytes returns f's STOMP wire encoding.
func (f *Frame) Bytes() []byte {
	var buf bytes.Buffer
	f.WriteTo(&buf)
	return buf.Bytes()
}

// HeartBeat is the distinct token the parser emits for an inbound
// heart-beat tick. It carries no data and is never mistaken for a Frame.
type HeartBeat struct{}
