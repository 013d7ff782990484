package main

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatReply(t *testing.T) {
	tests := []struct {
		name  string
		input resp.Value
		want  string
	}{
		{"Status", resp.MakeOK(), "OK"},
		{"Error", resp.MakeError("ERR syntax error"), "(error) ERR syntax error"},
		{"Integer", resp.MakeInteger(-2), "(integer) -2"},
		{"Bulk", resp.MakeBulkString("hello"), `"hello"`},
		{"Bulk with newline", resp.MakeBulkString("a\nb"), `"a\nb"`},
		{"Nil bulk", resp.MakeNilBulkString(), "(nil)"},
		{"Nil array", resp.MakeNilArray(), "(nil)"},
		{"Empty array", resp.MakeArray(nil), "(empty array)"},
		{
			"Flat array",
			resp.MakeArray([]resp.Value{resp.MakeBulkString("v1"), resp.MakeNilBulkString()}),
			"1) \"v1\"\n2) (nil)",
		},
		{
			"Nested array",
			resp.MakeArray([]resp.Value{
				resp.MakeBulkString("get"),
				resp.MakeArray([]resp.Value{resp.MakeInteger(2), resp.MakeSimpleString("readonly")}),
			}),
			"1) \"get\"\n2) 1) (integer) 2\n   2) readonly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatReply(tt.input))
		})
	}
}

func TestFormatReply_AlignsIndexes(t *testing.T) {
	items := make([]string, 10)
	for i := range items {
		items[i] = "k"
	}

	lines := strings.Split(FormatReply(resp.MakeBulkArray(items)), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, ` 1) "k"`, lines[0])
	assert.Equal(t, `10) "k"`, lines[9])
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"Plain", "SET k v", []string{"SET", "k", "v"}},
		{"Extra spaces", "  GET \t k  ", []string{"GET", "k"}},
		{"Double quotes", `SET k "hello world"`, []string{"SET", "k", "hello world"}},
		{"Single quotes", `SET k 'it is'`, []string{"SET", "k", "it is"}},
		{"Escapes", `SET k "a\nb\"c"`, []string{"SET", "k", "a\nb\"c"}},
		{"Empty quoted", `SET k ""`, []string{"SET", "k", ""}},
		{"Glued quotes", `KEYS user:"*"`, []string{"KEYS", "user:*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitArgs(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SplitArgs(`SET k "open`)
	assert.ErrorIs(t, err, errUnbalancedQuotes)
}

// fakeServer answers every request with the reply chosen by handle
func fakeServer(t *testing.T, handle func(args []string) resp.Value) *Client {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	go func() {
		dec := resp.NewDecoder(serverConn)
		enc := resp.NewEncoder(serverConn)
		for {
			req, err := dec.Read()
			if err != nil {
				return
			}
			if enc.Write(handle(req.Args())) != nil || enc.Flush() != nil {
				return
			}
		}
	}()

	return NewClient(clientConn)
}

func TestClientDo(t *testing.T) {
	client := fakeServer(t, func(args []string) resp.Value {
		if strings.EqualFold(args[0], "PING") {
			return resp.MakeSimpleString("PONG")
		}
		return resp.MakeBulkArray(args)
	})

	reply, err := client.Do("PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(reply.String))

	reply, err = client.Do("SET", "k", "hello world")
	require.NoError(t, err)
	assert.Equal(t, []string{"SET", "k", "hello world"}, reply.Args())
}

func TestREPL(t *testing.T) {
	client := fakeServer(t, func(args []string) resp.Value {
		switch strings.ToUpper(args[0]) {
		case "SET":
			return resp.MakeOK()
		case "GET":
			return resp.MakeBulkString("v")
		}
		return resp.MakeError("ERR unknown command '" + args[0] + "'")
	})

	in := strings.NewReader("SET k v\n\nGET k\nNOPE\nSET \"broken\nquit\nGET k\n")
	var out bytes.Buffer

	require.NoError(t, repl(client, "test", in, &out))

	assert.Equal(t,
		"test> OK\n"+
			"test> "+
			"test> \"v\"\n"+
			"test> (error) ERR unknown command 'NOPE'\n"+
			"test> (error) invalid argument(s): unbalanced quotes\n"+
			"test> ",
		out.String())
}
