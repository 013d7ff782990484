package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/metrics"
	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tresp "github.com/tidwall/resp"
	"go.uber.org/zap/zaptest"
)

// testServer holds an in-process server bound to a random local port
type testServer struct {
	server  *Server
	engine  *Engine
	metrics *metrics.Metrics
	addr    string
	done    chan error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := zaptest.NewLogger(t)
	s := storage.NewMapStorage()
	m := metrics.New(s.Stats)

	engine, err := NewEngine(s, &config.Config{GC: config.DefaultGCConfig()}, log, m)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(engine, log, m)
	ts := &testServer{
		server:  srv,
		engine:  engine,
		metrics: m,
		addr:    listener.Addr().String(),
		done:    make(chan error, 1),
	}

	go func() {
		ts.done <- srv.Serve(listener)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
		engine.Shutdown()
	})

	return ts
}

func (ts *testServer) client(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:            ts.addr,
		Protocol:        2,
		DisableIdentity: true,
	})
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", ts.addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestServer_StringCommands(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	_, err := client.Get(ctx, "k1").Result()
	assert.ErrorIs(t, err, redis.Nil)

	require.NoError(t, client.Set(ctx, "k1", "v1", 0).Err())
	val, err := client.Get(ctx, "k1").Result()
	require.NoError(t, err)
	assert.Equal(t, "v1", val)

	n, err := client.Exists(ctx, "k1", "k1", "nope").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	vals, err := client.MGet(ctx, "k1", "nope").Result()
	require.NoError(t, err)
	assert.Equal(t, []any{"v1", nil}, vals)

	err = client.SetArgs(ctx, "k1", "other", redis.SetArgs{Mode: "NX"}).Err()
	assert.ErrorIs(t, err, redis.Nil)
	assert.Equal(t, "v1", client.Get(ctx, "k1").Val())

	deleted, err := client.Del(ctx, "k1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestServer_Counters(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	assert.Equal(t, int64(1), client.Incr(ctx, "counter").Val())
	assert.Equal(t, int64(11), client.IncrBy(ctx, "counter", 10).Val())
	assert.Equal(t, int64(10), client.Decr(ctx, "counter").Val())
	assert.Equal(t, int64(5), client.DecrBy(ctx, "counter", 5).Val())

	client.Set(ctx, "text", "hello", 0)
	err := client.Incr(ctx, "text").Err()
	require.Error(t, err)
	assert.Equal(t, "ERR value is not an integer or out of range", err.Error())

	// the connection survives command errors
	assert.Equal(t, "hello", client.Get(ctx, "text").Val())
}

func TestServer_Expiry(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	client.Set(ctx, "k1", "v1", 0)

	ttl, err := client.TTL(ctx, "k1").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	ok, err := client.Expire(ctx, "k1", 100*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err = client.TTL(ctx, "k1").Result()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Second, ttl)

	ok, err = client.Persist(ctx, "k1").Result()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(-1), client.TTL(ctx, "k1").Val())

	ok, err = client.Persist(ctx, "k1").Result()
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = client.Expire(ctx, "k1", -100*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, client.Get(ctx, "k1").Err(), redis.Nil)

	assert.Equal(t, time.Duration(-2), client.TTL(ctx, "k1").Val())

	client.Set(ctx, "short", "v", 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return client.Exists(ctx, "short").Val() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServer_KeysAndFlushAll(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	for _, k := range []string{"k1", "k2", "another"} {
		require.NoError(t, client.Set(ctx, k, "v", 0).Err())
	}

	keys, err := client.Keys(ctx, "a*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"another"}, keys)

	assert.Equal(t, int64(3), client.DBSize(ctx).Val())

	require.NoError(t, client.FlushAll(ctx).Err())

	keys, err = client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestServer_Pipeline(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	pipe := client.Pipeline()
	for i := 0; i < 100; i++ {
		pipe.Set(ctx, "key:"+strconv.Itoa(i), i, 0)
	}
	incr := pipe.Incr(ctx, "key:7")
	get := pipe.Get(ctx, "key:99")

	_, err := pipe.Exec(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(8), incr.Val())
	assert.Equal(t, "99", get.Val())
}

func TestServer_ConcurrentClients(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	const clients, perClient = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		client := ts.client(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				client.Incr(ctx, "shared")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, strconv.Itoa(clients*perClient), ts.client(t).Get(ctx, "shared").Val())
}

func TestServer_InlineCommands(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)
	rd := bufio.NewReader(conn)

	_, err := io.WriteString(conn, "PING\r\nSET greeting hello\nget greeting\r\n\r\nTTL greeting\r\n")
	require.NoError(t, err)

	expected := []string{"+PONG\r\n", "+OK\r\n", "$5\r\n", "hello\r\n", ":-1\r\n"}
	for _, want := range expected {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
}

func TestServer_UnknownCommandKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)
	client := tresp.NewConn(conn)

	require.NoError(t, client.WriteArray([]tresp.Value{tresp.StringValue("NOPE"), tresp.StringValue("x")}))
	res, _, err := client.ReadValue()
	require.NoError(t, err)
	require.Equal(t, tresp.Error, res.Type())
	assert.True(t, strings.HasPrefix(res.Error().Error(), "ERR unknown command 'NOPE'"))

	require.NoError(t, client.WriteArray([]tresp.Value{tresp.StringValue("GET")}))
	res, _, err = client.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "ERR wrong number of arguments for 'get' command", res.Error().Error())

	require.NoError(t, client.WriteArray([]tresp.Value{tresp.StringValue("ECHO"), tresp.StringValue("still here")}))
	res, _, err = client.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "still here", res.String())
}

func TestServer_ProtocolErrorClosesConnection(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Bad bulk length", "*1\r\n$abc\r\n"},
		{"Negative array length", "*-5\r\n"},
		{"Missing bulk terminator", "*1\r\n$4\r\nPINGxx"},
		{"Multibulk without CR", "*1\n$4\r\nPING\r\n"},
		{"Array element", "*3\r\n$3\r\nSET\r\n*1\r\n$1\r\nx\r\n+val\r\n"},
		{"Integer element", "*2\r\n$3\r\nGET\r\n:1\r\n"},
		{"Nil bulk element", "*2\r\n$3\r\nGET\r\n$-1\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			conn := ts.dial(t)

			_, err := io.WriteString(conn, tt.input)
			require.NoError(t, err)

			rd := bufio.NewReader(conn)
			line, err := rd.ReadString('\n')
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(line, "-ERR Protocol error: "), "got %q", line)

			_, err = rd.ReadByte()
			assert.ErrorIs(t, err, io.EOF)

			// other clients are unaffected
			assert.Equal(t, "PONG", ts.client(t).Ping(context.Background()).Val())
		})
	}
}

func TestServer_TruncatedFrame(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	_, err := io.WriteString(conn, "*2\r\n$3\r\nGET\r\n")
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(reply), "-ERR Protocol error: "), "got %q", reply)
}

func TestServer_Shutdown(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	_, err := io.WriteString(conn, "PING\r\n")
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+PONG\r\n", line)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// the idle connection must not hold the shutdown
	require.NoError(t, ts.server.Shutdown(ctx))

	select {
	case err := <-ts.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	_, err = net.DialTimeout("tcp", ts.addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	client.Set(ctx, "k", "v", 0)
	client.Get(ctx, "k")

	families, err := ts.metrics.Registry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}

	for _, name := range []string{
		"moonkv_commands_total",
		"moonkv_command_duration_seconds",
		"moonkv_connected_clients",
		"moonkv_keyspace_keys",
	} {
		assert.True(t, found[name], fmt.Sprintf("metric %s not exported", name))
	}
}

func TestServer_MalformedElementIsNotExecuted(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	_, err := io.WriteString(conn, "*3\r\n$3\r\nSET\r\n*1\r\n$1\r\nx\r\n+val\r\n")
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "-ERR Protocol error: expected '$', got '*'\r\n", string(reply))

	ctx := context.Background()
	client := ts.client(t)
	assert.Equal(t, int64(0), client.Exists(ctx, "").Val())
	assert.Equal(t, int64(0), client.DBSize(ctx).Val())
}

// queueListener hands out queued connections and keeps doing so after Close
type queueListener struct {
	conns chan net.Conn
}

func (l *queueListener) Accept() (net.Conn, error) {
	conn, ok := <-l.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return conn, nil
}

func (l *queueListener) Close() error   { return nil }
func (l *queueListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestServer_AcceptDuringShutdown(t *testing.T) {
	log := zaptest.NewLogger(t)
	engine, err := NewEngine(storage.NewMapStorage(), &config.Config{}, log, nil)
	require.NoError(t, err)
	t.Cleanup(engine.Shutdown)

	srv := NewServer(engine, log, nil)
	ln := &queueListener{conns: make(chan net.Conn, 1)}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	// the accept raced with shutdown: the connection is dropped, not served
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	ln.conns <- serverConn

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	clientConn.SetDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	_, err = clientConn.Write([]byte("PING\r\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
