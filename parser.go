package stomp

import (
	"bytes"
	"container/list"
	"strconv"
	"strings"
)

// parserState names one of the parser's four states.
type parserState int

const (
	stateHeartBeat parserState = iota
	stateCommand
	stateHeaders
	stateBody
)

// Parser is a streaming byte-to-frame decoder. It consumes one character
// at a time so that it never needs to know anything about how the
// underlying transport chunks reads — a partial frame split across two
// TCP segments parses identically to one delivered whole.
//
// Parser is not safe for concurrent use; the async client serialises all
// calls to Add on its own event loop goroutine.
type Parser struct {
	version Version

	state  parserState
	buffer bytes.Buffer

	frame  *Frame
	length int // negative means "read until FrameDelimiter"
	read   int

	frames *list.List
}

// NewParser returns a parser that validates commands against version's
// command set. STOMP 1.0 parsers ignore inbound heart-beats (spec §4.1);
// 1.1+ parsers surface them as HeartBeat tokens.
func NewParser(version Version) *Parser {
	p := &Parser{frames: list.New()}
	p.version = version
	p.reset()
	return p
}

// Reset clears all internal state, including any fully or partially
// parsed frame.
func (p *Parser) Reset() {
	p.reset()
}

func (p *Parser) reset() {
	p.frames.Init()
	p.startFrame()
}

func (p *Parser) startFrame() {
	p.frame = &Frame{}
	p.length = -1
	p.read = 0
	p.transition(stateHeartBeat)
}

func (p *Parser) transition(s parserState) {
	p.state = s
	p.buffer.Reset()
}

// CanRead reports whether at least one decoded frame or heart-beat is
// waiting to be retrieved with Get.
func (p *Parser) CanRead() bool {
	return p.frames.Len() > 0
}

// Get returns the next decoded value — a *Frame, a HeartBeat, or nil if
// nothing is buffered — in the order frames/heart-beats were parsed.
func (p *Parser) Get() any {
	if front := p.frames.Front(); front != nil {
		p.frames.Remove(front)
		return front.Value
	}
	return nil
}

// Add feeds raw wire bytes into the parser. It returns as soon as it
// encounters an error; bytes already consumed before the error remain
// consumed (matching the streaming, restartable design: callers that want
// to keep parsing after an InvalidFrame should call Reset first).
func (p *Parser) Add(data []byte) error {
	for _, b := range data {
		if err := p.step(b); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) step(b byte) error {
	switch p.state {
	case stateHeartBeat:
		return p.stepHeartBeat(b)
	case stateCommand:
		return p.stepCommand(b)
	case stateHeaders:
		return p.stepHeaders(b)
	case stateBody:
		return p.stepBody(b)
	default:
		panic("stomp: parser in unknown state")
	}
}

func (p *Parser) stepHeartBeat(b byte) error {
	if b != LineDelimiter {
		p.transition(stateCommand)
		return p.step(b)
	}
	if p.version != Version10 {
		p.frames.PushBack(HeartBeat{})
	}
	return nil
}

func (p *Parser) stepCommand(b byte) error {
	if b != LineDelimiter {
		p.buffer.WriteByte(b)
		return nil
	}
	command := p.buffer.String()
	if command == "" {
		// Tolerate stray newlines between frames.
		return nil
	}
	if !IsKnownCommand(p.version, command) {
		p.buffer.Reset()
		return newInvalidFrame("unknown command %q for version %s", command, p.version)
	}
	p.frame.Command = command
	p.transition(stateHeaders)
	return nil
}

func (p *Parser) stepHeaders(b byte) error {
	if b != LineDelimiter {
		p.buffer.WriteByte(b)
		return nil
	}
	line := p.buffer.String()
	if line == "" {
		length := -1
		if v, ok := p.frame.Headers.Get(HeaderContentLength); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return newInvalidFrame("malformed content-length header %q", v)
			}
			length = n
		}
		p.length = length
		p.read = 0
		p.transition(stateBody)
		return nil
	}
	name, value, ok := strings.Cut(line, string(rune(HeaderSeparator)))
	if !ok {
		return newInvalidFrame("header line has no separator: %q", line)
	}
	p.frame.Headers.SetFirstOccurrence(name, value)
	p.transition(stateHeaders)
	return nil
}

func (p *Parser) stepBody(b byte) error {
	p.read++
	// The first `length` bytes (when content-length is set) are taken
	// unconditionally, NUL included; past that point — or always, when
	// content-length is unset — only a FrameDelimiter ends the frame.
	if p.read <= p.length || b != FrameDelimiter {
		p.buffer.WriteByte(b)
		return nil
	}
	p.frame.Body = append([]byte(nil), p.buffer.Bytes()...)
	p.frames.PushBack(p.frame)
	p.startFrame()
	return nil
}
