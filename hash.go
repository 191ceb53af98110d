package hashtree

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
)

// Size is the length in bytes of a Hash and of a Key.
const Size = sha256.Size

// Hash is the address of a stored byte sequence: its sha256 digest.
type Hash [Size]byte

// Sum computes the Hash of some bytes.
func Sum(b []byte) Hash {
	return sha256.Sum256(b)
}

// Zero is the zero value of a Hash.
var Zero Hash

// EmptyHash is the hash of the empty blob.
var EmptyHash = Sum(nil)

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Less tells whether h sorts before other.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// IsZero tells whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// FromHex parses a hex string into h.
func (h *Hash) FromHex(s string) error {
	if len(s) != 2*Size {
		return errors.New("wrong length")
	}
	_, err := hex.Decode(h[:], []byte(s))
	return err
}

// HashFromBytes copies b into a Hash.
func HashFromBytes(b []byte) Hash {
	var out Hash
	copy(out[:], b)
	return out
}

// HashFromHex parses a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var out Hash
	err := out.FromHex(s)
	return out, err
}

// Scan implements sql.Scanner.
func (h *Hash) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into a Hash", src)
	}
	if len(b) != Size {
		return fmt.Errorf("cannot scan %d bytes into a Hash", len(b))
	}
	copy(h[:], b)
	return nil
}

// Value implements driver.Valuer.
func (h Hash) Value() (driver.Value, error) {
	return h[:], nil
}

// Key is the symmetric key that decrypts a CHK-encrypted node or blob.
type Key [Size]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// KeyFromBytes copies b into a Key.
func KeyFromBytes(b []byte) *Key {
	var out Key
	copy(out[:], b)
	return &out
}

// CID identifies stored content.
// Hash addresses the stored (possibly encrypted) bytes.
// Key, when non-nil, decrypts them.
type CID struct {
	Hash Hash
	Key  *Key
}

// Encrypted tells whether c refers to CHK-encrypted content.
func (c CID) Encrypted() bool {
	return c.Key != nil
}

func (c CID) String() string {
	if c.Key == nil {
		return c.Hash.String()
	}
	return c.Hash.String() + ":" + c.Key.String()
}

// ParseCID parses the output of CID.String.
func ParseCID(s string) (CID, error) {
	var (
		c   CID
		err error
	)
	if len(s) == 2*Size {
		c.Hash, err = HashFromHex(s)
		return c, err
	}
	if len(s) != 4*Size+1 || s[2*Size] != ':' {
		return c, fmt.Errorf("malformed cid %q", s)
	}
	c.Hash, err = HashFromHex(s[:2*Size])
	if err != nil {
		return c, errors.Wrap(err, "parsing hash")
	}
	var k Key
	if _, err = hex.Decode(k[:], []byte(s[2*Size+1:])); err != nil {
		return c, errors.Wrap(err, "parsing key")
	}
	c.Key = &k
	return c, nil
}
