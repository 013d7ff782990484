package main

import (
	"net"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
)

// Client is a blocking single-connection RESP client
type Client struct {
	conn net.Conn
	dec  *resp.Decoder
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, dec: resp.NewDecoder(conn)}
}

// Do sends one command and waits for its reply. Error replies are returned
// as values, only transport and framing failures are errors
func (c *Client) Do(args ...string) (resp.Value, error) {
	if _, err := c.conn.Write(resp.EncodeCommand(args...)); err != nil {
		return resp.Value{}, err
	}
	return c.dec.Read()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
