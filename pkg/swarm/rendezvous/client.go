package rendezvous

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/topic"
	"github.com/damianfilipek81/whisper/pkg/transport"
)

// Client talks to one or more rendezvous servers and implements
// swarm.Directory. Announces fan out to every server; a lookup merges the
// answers. One reachable server is enough for either to succeed.
type Client struct {
	tr      transport.Transport
	servers []string
	ttl     time.Duration

	mu    sync.Mutex
	conns map[string]*serverConn
}

type serverConn struct {
	sess transport.Session
	st   transport.Stream
	mu   sync.Mutex // serializes request/response pairs on the stream
}

// NewClient builds a client over the given transport and bootstrap addresses.
// ttl is the registration lifetime requested on each announce (zero means the
// server default).
func NewClient(tr transport.Transport, servers []string, ttl time.Duration) *Client {
	return &Client{
		tr:      tr,
		servers: servers,
		ttl:     ttl,
		conns:   make(map[string]*serverConn),
	}
}

// Announce registers addr under t on every reachable server. It succeeds if at
// least one server accepted the registration.
func (c *Client) Announce(ctx context.Context, t topic.Topic, addr string) error {
	return c.fanout(ctx, Request{
		Op:    OpAnnounce,
		Topic: t[:],
		Addr:  addr,
		TTLMS: c.ttl.Milliseconds(),
	})
}

// Unannounce withdraws addr from t on every reachable server.
func (c *Client) Unannounce(ctx context.Context, t topic.Topic, addr string) error {
	return c.fanout(ctx, Request{Op: OpUnannounce, Topic: t[:], Addr: addr})
}

// Lookup merges the address lists of every reachable server, deduplicated.
func (c *Client) Lookup(ctx context.Context, t topic.Topic) ([]string, error) {
	var (
		firstErr error
		answered bool
		seen     = make(map[string]struct{})
		out      []string
	)
	for _, server := range c.servers {
		resp, err := c.exchange(ctx, server, Request{Op: OpLookup, Topic: t[:]})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		answered = true
		for _, a := range resp.Addrs {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	if !answered {
		if firstErr == nil {
			firstErr = errors.New("rendezvous: no servers configured")
		}
		return nil, firstErr
	}
	return out, nil
}

// Close drops every cached server session.
func (c *Client) Close() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*serverConn)
	c.mu.Unlock()
	for _, sc := range conns {
		_ = sc.sess.Close()
	}
}

func (c *Client) fanout(ctx context.Context, req Request) error {
	var firstErr error
	ok := false
	for _, server := range c.servers {
		resp, err := c.exchange(ctx, server, req)
		if err == nil && resp.OK {
			ok = true
			continue
		}
		if err == nil {
			err = errors.New("rendezvous: " + resp.Err)
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if ok {
		return nil
	}
	if firstErr == nil {
		firstErr = errors.New("rendezvous: no servers configured")
	}
	return firstErr
}

// exchange sends one request to server and reads its response, reconnecting
// once if the cached session has gone stale.
func (c *Client) exchange(ctx context.Context, server string, req Request) (Response, error) {
	sc, err := c.conn(ctx, server)
	if err != nil {
		return Response{}, err
	}
	resp, err := sc.roundTrip(req)
	if err == nil {
		return resp, nil
	}
	c.drop(server, sc)
	zap.L().Debug("rendezvous exchange failed, redialing",
		zap.String("server", server), zap.Error(err))
	sc, err = c.conn(ctx, server)
	if err != nil {
		return Response{}, err
	}
	resp, err = sc.roundTrip(req)
	if err != nil {
		c.drop(server, sc)
		return Response{}, err
	}
	return resp, nil
}

func (c *Client) conn(ctx context.Context, server string) (*serverConn, error) {
	c.mu.Lock()
	if sc, ok := c.conns[server]; ok {
		c.mu.Unlock()
		return sc, nil
	}
	c.mu.Unlock()

	sess, err := c.tr.Dial(ctx, server)
	if err != nil {
		return nil, err
	}
	st, err := sess.OpenStream(ctx, transport.StreamControl)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	sc := &serverConn{sess: sess, st: st}

	c.mu.Lock()
	if existing, ok := c.conns[server]; ok {
		c.mu.Unlock()
		_ = sess.Close()
		return existing, nil
	}
	c.conns[server] = sc
	c.mu.Unlock()
	return sc, nil
}

func (c *Client) drop(server string, sc *serverConn) {
	c.mu.Lock()
	if c.conns[server] == sc {
		delete(c.conns, server)
	}
	c.mu.Unlock()
	_ = sc.sess.Close()
}

func (sc *serverConn) roundTrip(req Request) (Response, error) {
	b, err := EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.st.SendBytes(b); err != nil {
		return Response{}, err
	}
	rb, err := sc.st.RecvBytes()
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(rb)
}
