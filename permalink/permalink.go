// Package permalink encodes content identifiers and tree paths
// as shareable, checksummed strings.
//
// A hash link looks like nhash1... and carries a CID.
// A path link looks like npath1... and names a path within a published tree:
// the publisher's public key, the tree's name, the path segments,
// and optionally the key that decrypts the target.
//
// Both are bech32 strings whose payload is a sequence of
// type-length-value records, each with a one-byte type and a one-byte length.
package permalink

import (
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// Human-readable prefixes.
const (
	HashPrefix = "nhash"
	PathPrefix = "npath"
)

// Record types.
const (
	tlvHash = 0
	tlvKey  = 1

	tlvPubKey  = 0
	tlvTree    = 1
	tlvSegment = 2
	tlvPathKey = 3
)

// Path names content by its location in a published tree.
type Path struct {
	PubKey   [32]byte
	Tree     string
	Segments []string

	// Key, if set, decrypts the target.
	Key *hashtree.Key
}

// EncodeHash produces the nhash1 form of c.
func EncodeHash(c hashtree.CID) (string, error) {
	var payload []byte
	payload = appendTLV(payload, tlvHash, c.Hash[:])
	if c.Key != nil {
		payload = appendTLV(payload, tlvKey, c.Key[:])
	}
	return encode(HashPrefix, payload)
}

// DecodeHash parses the output of EncodeHash.
func DecodeHash(s string) (hashtree.CID, error) {
	var (
		c       hashtree.CID
		hasHash bool
	)
	err := decode(s, HashPrefix, func(typ byte, val []byte) error {
		switch typ {
		case tlvHash:
			if len(val) != hashtree.Size {
				return errors.Errorf("hash has length %d", len(val))
			}
			c.Hash = hashtree.HashFromBytes(val)
			hasHash = true
		case tlvKey:
			if len(val) != hashtree.Size {
				return errors.Errorf("key has length %d", len(val))
			}
			c.Key = hashtree.KeyFromBytes(val)
		}
		return nil
	})
	if err != nil {
		return hashtree.CID{}, err
	}
	if !hasHash {
		return hashtree.CID{}, errors.New("no hash in link")
	}
	return c, nil
}

// EncodePath produces the npath1 form of p.
// The tree name and each segment must be at most 255 bytes.
func EncodePath(p Path) (string, error) {
	var payload []byte
	payload = appendTLV(payload, tlvPubKey, p.PubKey[:])
	if len(p.Tree) > 255 {
		return "", errors.Errorf("tree name of %d bytes too long", len(p.Tree))
	}
	payload = appendTLV(payload, tlvTree, []byte(p.Tree))
	for _, seg := range p.Segments {
		if len(seg) > 255 {
			return "", errors.Errorf("path segment of %d bytes too long", len(seg))
		}
		payload = appendTLV(payload, tlvSegment, []byte(seg))
	}
	if p.Key != nil {
		payload = appendTLV(payload, tlvPathKey, p.Key[:])
	}
	return encode(PathPrefix, payload)
}

// DecodePath parses the output of EncodePath.
func DecodePath(s string) (Path, error) {
	var (
		p                  Path
		hasPubKey, hasTree bool
	)
	err := decode(s, PathPrefix, func(typ byte, val []byte) error {
		switch typ {
		case tlvPubKey:
			if len(val) != len(p.PubKey) {
				return errors.Errorf("public key has length %d", len(val))
			}
			copy(p.PubKey[:], val)
			hasPubKey = true
		case tlvTree:
			p.Tree = string(val)
			hasTree = true
		case tlvSegment:
			p.Segments = append(p.Segments, string(val))
		case tlvPathKey:
			if len(val) != hashtree.Size {
				return errors.Errorf("key has length %d", len(val))
			}
			p.Key = hashtree.KeyFromBytes(val)
		}
		return nil
	})
	if err != nil {
		return Path{}, err
	}
	if !hasPubKey || !hasTree {
		return Path{}, errors.New("link lacks public key or tree name")
	}
	return p, nil
}

func appendTLV(b []byte, typ byte, val []byte) []byte {
	b = append(b, typ, byte(len(val)))
	return append(b, val...)
}

func encode(prefix string, payload []byte) (string, error) {
	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", errors.Wrap(err, "converting to base32")
	}
	return bech32.Encode(prefix, conv)
}

// decode checks the prefix and checksum of s
// and calls f for each record in its payload.
// Unknown record types are passed to f, which ignores them.
func decode(s, prefix string, f func(typ byte, val []byte) error) error {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return errors.Wrap(err, "decoding bech32")
	}
	if hrp != prefix {
		return errors.Errorf("link has prefix %q, want %q", hrp, prefix)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return errors.Wrap(err, "converting from base32")
	}
	for len(payload) > 0 {
		if len(payload) < 2 {
			return errors.New("truncated record")
		}
		typ, n := payload[0], int(payload[1])
		if len(payload) < 2+n {
			return errors.New("truncated record")
		}
		if err := f(typ, payload[2:2+n]); err != nil {
			return err
		}
		payload = payload[2+n:]
	}
	return nil
}
