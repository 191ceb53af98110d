package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// Messages of the Store service are msgpack-encoded.
// Clients select this codec with a content subtype.
const codecName = "msgpack"

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error)      { return msgpack.Marshal(v) }
func (codec) Unmarshal(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }
func (codec) Name() string                               { return codecName }

func init() {
	encoding.RegisterCodec(codec{})
}

type hashMsg struct {
	Hash []byte `msgpack:"h"`
}

type blobMsg struct {
	Data []byte `msgpack:"d"`
}

type putMsg struct {
	Hash []byte `msgpack:"h"`
	Data []byte `msgpack:"d"`
}

type boolMsg struct {
	OK bool `msgpack:"ok"`
}
