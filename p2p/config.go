package p2p

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Defaults for Config.
const (
	DefaultRequestTimeout    = 5 * time.Second
	DefaultTheirRequestsSize = 256
	DefaultExpiredSize       = 256
	DefaultMaxInbound        = 64
)

// Config configures a Node.
// It is normally read from the "p2p" section of a JSON config file.
type Config struct {
	// RequestTimeout bounds the wait for each request to a peer.
	RequestTimeout Duration `json:"request_timeout"`

	// HTL is the hop budget of requests originated by this node.
	HTL int `json:"htl"`

	// TheirRequestsSize bounds, per peer,
	// the record of requests this node could not yet answer.
	TheirRequestsSize int `json:"their_requests_size"`

	// ExpiredSize bounds, per peer,
	// the record of timed-out requests whose late answers are still accepted.
	ExpiredSize int `json:"expired_size"`

	// MaxInbound bounds, per peer,
	// the requests from that peer being handled at once.
	// Requests beyond it are dropped unanswered.
	MaxInbound int `json:"max_inbound"`

	Pools []PoolConfig `json:"pools"`

	// Addresses for the transports.
	QUICListen string   `json:"quic_listen"`
	QUICPeers  []string `json:"quic_peers"`
	WSListen   string   `json:"ws_listen"`
	WSPeers    []string `json:"ws_peers"`

	// Seed seeds the random source of the HTL policies.
	// Zero means a time-based seed.
	Seed int64 `json:"seed"`
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.HTL <= 0 {
		c.HTL = MaxHTL
	}
	if c.TheirRequestsSize <= 0 {
		c.TheirRequestsSize = DefaultTheirRequestsSize
	}
	if c.ExpiredSize <= 0 {
		c.ExpiredSize = DefaultExpiredSize
	}
	if c.MaxInbound <= 0 {
		c.MaxInbound = DefaultMaxInbound
	}
	return c
}

// Duration is a time.Duration that reads from JSON
// as a string like "5s" or as a number of nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return errors.Wrapf(err, "parsing duration %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "parsing duration")
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
