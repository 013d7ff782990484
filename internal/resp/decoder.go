package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	MaxBulkLength  = 512 << 20 // largest accepted bulk payload
	MaxArrayLength = 1 << 20   // largest accepted multi-bulk count
	MaxInlineSize  = 64 << 10  // longest accepted line, inline commands included
	maxDepth       = 32
)

var (
	// ErrProtocol is wrapped by every decoding failure caused by malformed input
	ErrProtocol = errors.New("protocol error")

	ErrInvalidEnding = fmt.Errorf("%w: invalid line ending", ErrProtocol)
	ErrInvalidLength = fmt.Errorf("%w: invalid length", ErrProtocol)
	ErrLineTooLong   = fmt.Errorf("%w: line too long", ErrProtocol)
	ErrTooDeep       = fmt.Errorf("%w: nesting too deep", ErrProtocol)
)

// Decoder reads RESP frames from a stream. Besides the typed forms it accepts
// inline commands: a plain text line split on whitespace
type Decoder struct {
	rd *bufio.Reader
}

// NewDecoder wraps rd in a buffered reader sized for the longest inline command
func NewDecoder(rd io.Reader) *Decoder {
	return &Decoder{rd: bufio.NewReaderSize(rd, MaxInlineSize)}
}

// Buffered returns the number of bytes that can be read from the current buffer
func (d *Decoder) Buffered() int {
	return d.rd.Buffered()
}

// Read decodes the next frame. io.EOF is returned only when the stream ends
// cleanly between frames; a stream cut inside a frame is a protocol error
func (d *Decoder) Read() (Value, error) {
	prefix, err := d.rd.ReadByte()
	if err != nil {
		return Value{}, err
	}

	var val Value
	if isTypePrefix(prefix) {
		val, err = d.readTyped(prefix, 0)
	} else {
		d.rd.UnreadByte() //nolint:errcheck
		val, err = d.readInline()
	}

	if err != nil {
		return Value{}, unexpectedEOF(err)
	}
	return val, nil
}

func (d *Decoder) readValue(depth int) (Value, error) {
	prefix, err := d.rd.ReadByte()
	if err != nil {
		return Value{}, err
	}
	if !isTypePrefix(prefix) {
		return Value{}, fmt.Errorf("%w: unexpected type byte %q", ErrProtocol, prefix)
	}
	return d.readTyped(prefix, depth)
}

func (d *Decoder) readTyped(prefix byte, depth int) (Value, error) {
	switch prefix {
	case TypeSimpleString, TypeError:
		line, err := d.readLine(true)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: prefix, String: bytes.Clone(line)}, nil

	case TypeInteger:
		n, err := d.readInteger()
		if err != nil {
			return Value{}, err
		}
		return MakeInteger(n), nil

	case TypeBulkString:
		return d.readBulk()

	case TypeArray:
		return d.readArray(depth)
	}

	return Value{}, fmt.Errorf("%w: unexpected type byte %q", ErrProtocol, prefix)
}

func (d *Decoder) readBulk() (Value, error) {
	n, err := d.readInteger()
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNilBulkString(), nil
	}
	if n < 0 || n > MaxBulkLength {
		return Value{}, fmt.Errorf("%w: bulk length %d", ErrInvalidLength, n)
	}

	if n <= int64(d.rd.Size()) {
		// payload plus CRLF
		buf := make([]byte, n+2)
		if _, err = io.ReadFull(d.rd, buf); err != nil {
			return Value{}, err
		}
		if buf[n] != '\r' || buf[n+1] != '\n' {
			return Value{}, ErrInvalidEnding
		}
		return Value{Type: TypeBulkString, String: buf[:n:n]}, nil
	}

	// large payloads grow with the bytes received, not with the claimed length
	var payload bytes.Buffer
	if _, err = io.CopyN(&payload, d.rd, n); err != nil {
		return Value{}, err
	}
	if err = d.readCRLF(); err != nil {
		return Value{}, err
	}

	buf := payload.Bytes()
	return Value{Type: TypeBulkString, String: buf[:n:n]}, nil
}

func (d *Decoder) readCRLF() error {
	var end [2]byte
	if _, err := io.ReadFull(d.rd, end[:]); err != nil {
		return err
	}
	if end[0] != '\r' || end[1] != '\n' {
		return ErrInvalidEnding
	}
	return nil
}

func (d *Decoder) readArray(depth int) (Value, error) {
	if depth >= maxDepth {
		return Value{}, ErrTooDeep
	}

	n, err := d.readInteger()
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNilArray(), nil
	}
	if n < 0 || n > MaxArrayLength {
		return Value{}, fmt.Errorf("%w: array length %d", ErrInvalidLength, n)
	}

	// the count is client supplied, so grow as elements actually arrive
	values := make([]Value, 0, min(n, 1024))
	for i := int64(0); i < n; i++ {
		el, err := d.readValue(depth + 1)
		if err != nil {
			return Value{}, err
		}
		values = append(values, el)
	}

	return MakeArray(values), nil
}

// readInline reads a whitespace separated command line into an array of bulk strings
func (d *Decoder) readInline() (Value, error) {
	line, err := d.readLine(false)
	if err != nil {
		return Value{}, err
	}

	fields := bytes.Fields(line)
	values := make([]Value, len(fields))
	for i, f := range fields {
		values[i] = Value{Type: TypeBulkString, String: bytes.Clone(f)}
	}

	return MakeArray(values), nil
}

func (d *Decoder) readInteger() (int64, error) {
	line, err := d.readLine(true)
	if err != nil {
		return 0, err
	}

	// Command with integer cant be empty
	if len(line) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrProtocol)
	}

	num, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", ErrProtocol, line)
	}

	return num, nil
}

// readLine returns the next line without its terminator. The slice is only
// valid until the next read. Strict lines must end with CRLF, otherwise a bare LF is accepted
func (d *Decoder) readLine(strict bool) ([]byte, error) {
	line, err := d.rd.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrLineTooLong
		}
		return nil, err
	}

	n := len(line)
	if n >= 2 && line[n-2] == '\r' {
		return line[:n-2], nil
	}
	if strict {
		return nil, ErrInvalidEnding
	}

	return line[:n-1], nil
}

// CheckRequest reports a command array whose elements are not all bulk strings.
// Replies may nest any type, requests may not
func CheckRequest(v Value) error {
	for _, el := range v.Array {
		if el.Type != TypeBulkString {
			return fmt.Errorf("%w: expected '$', got '%c'", ErrProtocol, el.Type)
		}
		if el.IsNull {
			return fmt.Errorf("%w: invalid bulk length", ErrProtocol)
		}
	}
	return nil
}

// ProtocolReason strips the ErrProtocol prefix, leaving the text sent after "Protocol error: "
func ProtocolReason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrProtocol.Error()+": ")
}

func isTypePrefix(b byte) bool {
	switch b {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
		return true
	}
	return false
}

// unexpectedEOF turns an EOF inside a frame into a protocol error
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrProtocol, io.ErrUnexpectedEOF)
	}
	return err
}
