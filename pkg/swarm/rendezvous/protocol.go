// Package rendezvous implements the directory protocol used by swarm nodes
// to find each other: small CBOR request/response frames over the control
// stream of a transport session to one or more well-known bootstrap servers.
package rendezvous

import (
	"github.com/damianfilipek81/whisper/pkg/protocol/codec"
)

// Operations.
const (
	OpAnnounce   = "announce"
	OpLookup     = "lookup"
	OpUnannounce = "unannounce"
)

// Request is one directory operation.
type Request struct {
	Op    string `json:"op"`
	Topic []byte `json:"topic"`
	Addr  string `json:"addr,omitempty"`
	TTLMS int64  `json:"ttl_ms,omitempty"`
}

// Response answers one Request.
type Response struct {
	OK    bool     `json:"ok"`
	Addrs []string `json:"addrs,omitempty"`
	Err   string   `json:"err,omitempty"`
}

var wire = codec.MustCBOR()

// EncodeRequest serializes a request frame.
func EncodeRequest(r Request) ([]byte, error) { return wire.Marshal(r) }

// DecodeRequest parses a request frame.
func DecodeRequest(b []byte) (Request, error) {
	var r Request
	err := wire.Unmarshal(b, &r)
	return r, err
}

// EncodeResponse serializes a response frame.
func EncodeResponse(r Response) ([]byte, error) { return wire.Marshal(r) }

// DecodeResponse parses a response frame.
func DecodeResponse(b []byte) (Response, error) {
	var r Response
	err := wire.Unmarshal(b, &r)
	return r, err
}
