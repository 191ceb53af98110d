package hashtree

import "fmt"

// DecodeError is the error produced by Decode on malformed node bytes.
// Readers treat it as "this is a blob, not a tree node."
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decoding tree node: " + e.Reason
}

func decodeErrorf(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// MissingChunkError reports a child hash that a tree refers to
// but that the store does not have.
type MissingChunkError struct {
	Hash Hash
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %s", e.Hash)
}

// AuthenticationError reports ciphertext that fails to decrypt with its key.
// Retrying with the same key cannot succeed.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authenticating ciphertext: %s", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op   string
	Hash Hash
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s %s: %s", e.Op, e.Hash, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// BoundsError reports a write-at range extending past the end of the content.
type BoundsError struct {
	Offset, Length, Size uint64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("write of %d bytes at offset %d exceeds size %d", e.Length, e.Offset, e.Size)
}
