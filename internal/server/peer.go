package server

import (
	"net"
	"sync"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/oklog/ulid/v2"
)

// Peer represents a connected client.
// It wraps a network connection and provides synchronized methods for writing RESP-encoded replies
type Peer struct {
	id     string // sortable connection id used in logs
	conn   net.Conn
	reader *resp.Decoder
	writer *resp.Encoder
	mu     sync.Mutex
	closed bool
}

// NewPeer initializes a new client peer from a network connection
func NewPeer(conn net.Conn) *Peer {
	return &Peer{
		id:     ulid.Make().String(),
		conn:   conn,
		reader: resp.NewDecoder(conn),
		writer: resp.NewEncoder(conn),
	}
}

// Send buffers a reply for the client. Nothing reaches the socket until Flush
func (p *Peer) Send(v resp.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Write(v)
}

// ReadCommand reads and decodes the next request frame from the client's input stream.
// Errors wrapping resp.ErrProtocol mean the stream can not be resynchronized
func (p *Peer) ReadCommand() (resp.Value, error) {
	req, err := p.reader.Read()
	if err != nil {
		return resp.Value{}, err
	}
	if err := resp.CheckRequest(req); err != nil {
		return resp.Value{}, err
	}
	return req, nil
}

// Flush sends all buffered replies to the client
func (p *Peer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Flush()
}

// InputBuffered returns the number of bytes that can be read without touching the socket.
// A non-zero value means the client pipelined more commands
func (p *Peer) InputBuffered() int {
	return p.reader.Buffered()
}

// ID returns the connection id, unique for the life of the process
func (p *Peer) ID() string {
	return p.id
}

// Addr returns the client address
func (p *Peer) Addr() string {
	return p.conn.RemoteAddr().String()
}

// Close terminates the underlying network connection. Repeated calls are no-ops
func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
