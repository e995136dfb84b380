package vhclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/awinterman/vhclient/resp"
)

// fakeServer is a minimal single-command-at-a-time RESP responder used to
// exercise the connection manager end to end, in the spirit of
// server/server_test.go's table-driven conn handlers.
type fakeServer struct {
	ln      net.Listener
	handler func(argv []string) []byte
}

func newFakeServer(t *testing.T, handler func(argv []string) []byte) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeServer{ln: ln, handler: handler}
	go fs.serve()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func (fs *fakeServer) endpoint() Endpoint {
	tcpAddr := fs.ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: tcpAddr.IP.String(), Port: uint16(tcpAddr.Port)}
}

func (fs *fakeServer) serve() {
	for {
		conn, err := fs.ln.Accept()
		if err != nil {
			return
		}
		go fs.handleConn(conn)
	}
}

func (fs *fakeServer) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	parser := &resp.Parser{}
	for {
		reply, err := parser.ReadReply(reader)
		if err != nil {
			return
		}
		argv := make([]string, len(reply.Array))
		for i, e := range reply.Array {
			argv[i] = string(e.Bulk)
		}
		out := fs.handler(argv)
		if out == nil {
			return // simulate a dropped connection
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func statusReply(s string) []byte { return []byte("+" + s + "\r\n") }
func errorReply(s string) []byte  { return []byte("-" + s + "\r\n") }
func bulkReply(s string) []byte   { return []byte(fmt.Sprintf("$%d\r\n%s\r\n", len(s), s)) }

func TestClient_SimpleExecute(t *testing.T) {
	is := is.New(t)

	srv := newFakeServer(t, func(argv []string) []byte {
		if len(argv) > 0 && argv[0] == "PING" {
			return statusReply("PONG")
		}
		return errorReply("ERR unknown command")
	})

	c, err := NewClient(Config{Members: []Endpoint{srv.endpoint()}})
	is.NoErr(err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := c.Execute(ctx, "PING")
	is.NoErr(err)
	is.Equal(reply.Status, "PONG")
}

func TestClient_MovedRedirectIsTransparent(t *testing.T) {
	is := is.New(t)

	target := newFakeServer(t, func(argv []string) []byte {
		if len(argv) > 0 && argv[0] == "GET" {
			return bulkReply("bar")
		}
		return errorReply("ERR unknown command")
	})

	var redirected bool
	origin := newFakeServer(t, func(argv []string) []byte {
		if len(argv) > 0 && argv[0] == "GET" && !redirected {
			redirected = true
			ep := target.endpoint()
			return errorReply(fmt.Sprintf("MOVED 0 %s:%d", ep.Host, ep.Port))
		}
		return errorReply("ERR unexpected traffic on origin")
	})

	c, err := NewClient(Config{
		Members:              []Endpoint{origin.endpoint()},
		TransparentRedirects: true,
		RetryStrategy:        InfiniteRetriesStrategy(),
	})
	is.NoErr(err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Execute(ctx, "GET", "foo")
	is.NoErr(err)
	is.Equal(string(reply.Bulk), "bar")
}

func TestClient_NoRetriesFailsPendingOnDisconnect(t *testing.T) {
	is := is.New(t)

	first := true
	srv := newFakeServer(t, func(argv []string) []byte {
		if first {
			first = false
			return nil // drop the connection on the very first command
		}
		return statusReply("PONG")
	})

	c, err := NewClient(Config{
		Members:       []Endpoint{srv.endpoint()},
		RetryStrategy: NoRetriesStrategy(),
	})
	is.NoErr(err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := c.Execute(ctx, "PING")
	is.NoErr(err)
	is.True(reply == nil) // abandoned, no retry under NoRetries
}
