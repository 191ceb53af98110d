// Package hashtree is a content-addressed merkle store.
//
// Byte streams are split into chunks,
// and each chunk is stored under its hash.
// The hashes are gathered into tree nodes,
// which are stored under the hash of their own encoding,
// and so on up to a single root.
// Identical content at any granularity,
// chunk or subtree,
// is stored once,
// because identical bytes always hash to the same address.
//
// This module uses sha2-256.
//
// Nodes never change once written.
// "Modifying" a tree means writing new nodes
// along the path from the changed leaf to the root,
// producing a new root.
// The old root and every subtree it shares with the new one remain valid.
//
// Content may optionally be encrypted with a content hash key (see package chk).
// The key for each node or chunk is derived from its own plaintext,
// so encrypted content deduplicates just like plain content.
// A CID pairs the hash of the stored bytes with the key needed to read them.
//
// This package defines the node model, its canonical encoding,
// and the Store interface that everything else is written against.
// Package tree builds and reads trees.
// Package p2p fetches missing content from peers.
// The store/... packages hold Store implementations.
package hashtree
