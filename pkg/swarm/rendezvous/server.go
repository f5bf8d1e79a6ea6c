package rendezvous

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/memkv"
	"github.com/damianfilipek81/whisper/pkg/transport"
)

// DefaultTTL is the registration lifetime applied when a request carries
// none.
const DefaultTTL = 90 * time.Second

// MaxTTL caps client-requested registration lifetimes.
const MaxTTL = 10 * time.Minute

// Server is a rendezvous (bootstrap) node: a TTL'd table of topic → address
// registrations. It holds no chat state and learns nothing beyond opaque
// topic hashes and transport addresses.
type Server struct {
	tr    transport.Transport
	table *memkv.Store
}

// NewServer builds a server over the given transport.
func NewServer(tr transport.Transport) *Server {
	return &Server{tr: tr, table: memkv.New(memkv.Options{})}
}

// Serve accepts sessions until ctx is done.
func (s *Server) Serve(ctx context.Context, address string) error {
	ln, err := s.tr.Listen(ctx, address)
	if err != nil {
		return err
	}
	defer ln.Close()
	defer s.table.Close()
	zap.L().Info("rendezvous serving", zap.String("addr", ln.Addr().String()))
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleSession(ctx, sess)
	}
}

func (s *Server) handleSession(ctx context.Context, sess transport.Session) {
	defer sess.Close()
	st, err := sess.OpenStream(ctx, transport.StreamControl)
	if err != nil {
		zap.L().Debug("rendezvous control stream failed", zap.Error(err))
		return
	}
	for {
		b, err := st.RecvBytes()
		if err != nil {
			return
		}
		req, err := DecodeRequest(b)
		var resp Response
		if err != nil {
			resp = Response{Err: "bad request"}
		} else {
			resp = s.handle(req)
		}
		out, err := EncodeResponse(resp)
		if err != nil {
			zap.L().Warn("rendezvous encode response failed", zap.Error(err))
			return
		}
		if err := st.SendBytes(out); err != nil {
			return
		}
	}
}

func (s *Server) handle(req Request) Response {
	if len(req.Topic) != 32 {
		return Response{Err: "bad topic length"}
	}
	switch req.Op {
	case OpAnnounce:
		if req.Addr == "" {
			return Response{Err: "missing addr"}
		}
		ttl := time.Duration(req.TTLMS) * time.Millisecond
		if ttl <= 0 {
			ttl = DefaultTTL
		}
		if ttl > MaxTTL {
			ttl = MaxTTL
		}
		s.table.Set(key(req.Topic, req.Addr), []byte(req.Addr), ttl)
		return Response{OK: true}
	case OpLookup:
		prefix := hex.EncodeToString(req.Topic) + "|"
		var addrs []string
		s.table.Range(func(k string, v []byte) bool {
			if strings.HasPrefix(k, prefix) {
				addrs = append(addrs, string(v))
			}
			return true
		})
		return Response{OK: true, Addrs: addrs}
	case OpUnannounce:
		s.table.Delete(key(req.Topic, req.Addr))
		return Response{OK: true}
	default:
		return Response{Err: "unknown op"}
	}
}

func key(topicBytes []byte, addr string) string {
	return hex.EncodeToString(topicBytes) + "|" + addr
}
