package p2p

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bobg/hashtree"
)

// MessageType is the first byte of every message.
type MessageType byte

// These values are fixed by the wire protocol.
const (
	MsgRequest  MessageType = 0x00
	MsgResponse MessageType = 0x01
)

// FragmentSize is the largest data payload sent in one response message.
// Larger data is split into fragments.
const FragmentSize = 32 << 10

// maxFragments bounds the size of data a peer may send us,
// and the memory spent reassembling it.
const maxFragments = 1024

// Request asks a peer for the data with a given hash.
type Request struct {
	Hash []byte `msgpack:"hash"`

	// HTL is the remaining hop budget.
	// Zero (or absent) means the request may not be forwarded.
	HTL int `msgpack:"htl,omitempty"`
}

// Response carries the data for a hash,
// or one fragment of it.
type Response struct {
	Hash          []byte `msgpack:"hash"`
	Data          []byte `msgpack:"data"`
	FragmentIndex *int   `msgpack:"fragmentIndex,omitempty"`
	FragmentCount *int   `msgpack:"fragmentCount,omitempty"`
}

// Message is a decoded wire message.
// Exactly one of Request and Response is set, according to Type.
type Message struct {
	Type     MessageType
	Request  *Request
	Response *Response
}

// EncodeRequest produces the wire form of a request.
func EncodeRequest(r *Request) ([]byte, error) {
	return encode(MsgRequest, r)
}

// EncodeResponse produces the wire form of a response.
func EncodeResponse(r *Response) ([]byte, error) {
	return encode(MsgResponse, r)
}

func encode(typ MessageType, body interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding message body")
	}
	return append([]byte{byte(typ)}, b...), nil
}

// DecodeMessage parses the wire form of a message.
func DecodeMessage(b []byte) (*Message, error) {
	if len(b) == 0 {
		return nil, errors.New("empty message")
	}
	m := &Message{Type: MessageType(b[0])}
	switch m.Type {
	case MsgRequest:
		m.Request = new(Request)
		if err := msgpack.Unmarshal(b[1:], m.Request); err != nil {
			return nil, errors.Wrap(err, "decoding request")
		}
		if len(m.Request.Hash) != hashtree.Size {
			return nil, errors.Errorf("request hash has length %d", len(m.Request.Hash))
		}

	case MsgResponse:
		m.Response = new(Response)
		if err := msgpack.Unmarshal(b[1:], m.Response); err != nil {
			return nil, errors.Wrap(err, "decoding response")
		}
		if len(m.Response.Hash) != hashtree.Size {
			return nil, errors.Errorf("response hash has length %d", len(m.Response.Hash))
		}

	default:
		return nil, errors.Errorf("unknown message type %d", m.Type)
	}
	return m, nil
}

// Fragments splits data into the responses that carry it.
// Data of at most FragmentSize bytes goes in a single unfragmented response.
func Fragments(h hashtree.Hash, data []byte) []*Response {
	if len(data) <= FragmentSize {
		return []*Response{{Hash: h[:], Data: data}}
	}
	count := (len(data) + FragmentSize - 1) / FragmentSize
	out := make([]*Response, 0, count)
	for i := 0; i < count; i++ {
		end := (i + 1) * FragmentSize
		if end > len(data) {
			end = len(data)
		}
		index, n := i, count
		out = append(out, &Response{
			Hash:          h[:],
			Data:          data[i*FragmentSize : end],
			FragmentIndex: &index,
			FragmentCount: &n,
		})
	}
	return out
}

// reassembly collects the fragments of one response.
type reassembly struct {
	parts [][]byte
	have  int
}

// add records a fragment.
// It returns the whole data once every fragment has arrived.
func (r *reassembly) add(index int, data []byte) ([]byte, bool) {
	if r.parts[index] == nil {
		r.parts[index] = append([]byte{}, data...)
		r.have++
	}
	if r.have < len(r.parts) {
		return nil, false
	}
	var total int
	for _, p := range r.parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range r.parts {
		out = append(out, p...)
	}
	return out, true
}
