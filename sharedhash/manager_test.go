package sharedhash

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/awinterman/vhclient/pubsub"
	"github.com/awinterman/vhclient/resp"
	"github.com/awinterman/vhclient/vhclient"
)

func newTestSubscriber(t *testing.T, ep vhclient.Endpoint, listener pubsub.Listener) *pubsub.Subscriber {
	t.Helper()
	return pubsub.NewSubscriber(pubsub.Options{Members: []vhclient.Endpoint{ep}}, listener)
}

// cmdServer answers VHGETALL/VHSET/VHDEL/MULTI/EXEC on the ordinary
// command connection, tracking just enough state to answer VHGETALL
// realistically.
type cmdServer struct {
	ln net.Listener

	mu       sync.Mutex
	revision uint64
	contents map[string]string
}

func newCmdServer(t *testing.T) *cmdServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &cmdServer{ln: ln, contents: map[string]string{"seed": "v0"}}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *cmdServer) endpoint() vhclient.Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return vhclient.Endpoint{Host: addr.IP.String(), Port: uint16(addr.Port)}
}

func (s *cmdServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *cmdServer) handle(conn net.Conn) {
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
		if len(argv) == 0 {
			continue
		}

		switch argv[0] {
		case "VHGETALL":
			if _, err := conn.Write(s.vhgetall()); err != nil {
				return
			}
		case "MULTI":
			if _, err := conn.Write([]byte("+OK\r\n")); err != nil {
				return
			}
		case "EXEC":
			if _, err := conn.Write([]byte("*0\r\n")); err != nil {
				return
			}
		case "VHSET":
			s.apply(argv[2], argv[3])
			if _, err := conn.Write([]byte(":1\r\n")); err != nil {
				return
			}
		case "VHDEL":
			s.apply(argv[2], "")
			if _, err := conn.Write([]byte(":1\r\n")); err != nil {
				return
			}
		default:
			if _, err := conn.Write([]byte("-ERR unsupported\r\n")); err != nil {
				return
			}
		}
	}
}

func (s *cmdServer) apply(field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
	if value == "" {
		delete(s.contents, field)
	} else {
		s.contents[field] = value
	}
}

func (s *cmdServer) vhgetall() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := fmt.Sprintf(":%d\r\n*%d\r\n", s.revision, len(s.contents)*2)
	for k, v := range s.contents {
		out += fmt.Sprintf("$%d\r\n%s\r\n$%d\r\n%s\r\n", len(k), k, len(v), v)
	}
	return []byte(fmt.Sprintf("*2\r\n%s", out))
}

// pubsubServer accepts exactly one subscriber connection and lets the test
// push raw "message" frames to it on demand.
type pubsubServer struct {
	ln   net.Listener
	conn net.Conn
	got  chan struct{}
}

func newPubsubServer(t *testing.T) *pubsubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &pubsubServer{ln: ln, got: make(chan struct{}, 1)}
	go s.accept(t)
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *pubsubServer) endpoint() vhclient.Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return vhclient.Endpoint{Host: addr.IP.String(), Port: uint16(addr.Port)}
}

func (s *pubsubServer) accept(t *testing.T) {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	s.conn = conn
	// Drain (and ignore) the SUBSCRIBE command the Subscriber sends.
	reader := bufio.NewReader(conn)
	parser := &resp.Parser{}
	go func() {
		for {
			if _, err := parser.ReadReply(reader); err != nil {
				return
			}
			select {
			case s.got <- struct{}{}:
			default:
			}
		}
	}()
}

func (s *pubsubServer) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never sent SUBSCRIBE")
	}
}

func (s *pubsubServer) pushMessage(t *testing.T, channel string, payload []byte) {
	t.Helper()
	frame := fmt.Sprintf("*3\r\n$7\r\nmessage\r\n$%d\r\n%s\r\n$%d\r\n",
		len(channel), channel, len(payload))
	if _, err := s.conn.Write([]byte(frame)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.conn.Write(payload); err != nil {
		t.Fatal(err)
	}
	if _, err := s.conn.Write([]byte("\r\n")); err != nil {
		t.Fatal(err)
	}
}

func TestSharedHash_IncrementalFeedThenGapResilvers(t *testing.T) {
	is := is.New(t)

	cmd := newCmdServer(t)
	ps := newPubsubServer(t)

	mgr, err := NewManager(vhclient.Config{
		Members:       []vhclient.Endpoint{cmd.endpoint()},
		RetryStrategy: vhclient.InfiniteRetriesStrategy(),
	})
	is.NoErr(err)
	defer mgr.Close()
	mgr.subscriber.Close()
	mgr.subscriber = newTestSubscriber(t, ps.endpoint(), mgr.dispatch)

	h := mgr.GetSharedHash("inventory")
	ps.waitSubscribed(t)

	// Initial resilver via VHGETALL should surface the seed data.
	waitUntil(t, func() bool {
		v, ok := h.Get("seed")
		return ok && v == "v0"
	})
	baseline := h.GetCurrentVersion()

	// A well-ordered incremental update applies directly.
	ps.pushMessage(t, h.channel(), encodeFeedPayload(baseline+1, "widgets", "42"))
	waitUntil(t, func() bool {
		v, ok := h.Get("widgets")
		return ok && v == "42"
	})
	is.Equal(h.GetCurrentVersion(), baseline+1)

	// A gap (skipping a revision) must trigger a resilver: simulate the
	// origin's state having moved on via VHSET, then feed a revision with a
	// hole in it.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	is.NoErr(h.Set(ctx, "gadgets", "7"))

	ps.pushMessage(t, h.channel(), encodeFeedPayload(baseline+10, "gap-field", "x"))
	waitUntil(t, func() bool {
		v, ok := h.Get("gadgets")
		return ok && v == "7"
	})
}

func TestSharedHash_DeletionViaEmptyValue(t *testing.T) {
	is := is.New(t)

	h := newBareHash()
	h.currentVersion = 1
	h.contents["x"] = "present"

	ok := h.feedRevision(2, "x", "")
	is.True(ok)
	_, found := h.Get("x")
	is.True(!found)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
