package hashtree

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the node encoding.
// The encoding is protobuf wire format with proto3 zero-omission,
// written in ascending field order,
// which makes it canonical.
const (
	nodeFieldType      protowire.Number = 1
	nodeFieldLinks     protowire.Number = 2
	nodeFieldTotalSize protowire.Number = 3
	nodeFieldMetadata  protowire.Number = 4

	linkFieldHash protowire.Number = 1
	linkFieldName protowire.Number = 2
	linkFieldSize protowire.Number = 3
	linkFieldType protowire.Number = 4
	linkFieldKey  protowire.Number = 5

	metaFieldKey   protowire.Number = 1
	metaFieldValue protowire.Number = 2
)

// Encode produces the canonical binary form of n.
// Identical logical nodes always produce identical bytes.
// The links of a directory node must be sorted by name, with no duplicates.
func Encode(n *TreeNode) ([]byte, error) {
	if n.Type != NodeFile && n.Type != NodeDir {
		return nil, errors.Errorf("invalid node type %d", n.Type)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, nodeFieldType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(n.Type))

	for i, l := range n.Links {
		if n.Type == NodeDir {
			if l.Name == "" {
				return nil, errors.Errorf("directory entry %d has no name", i)
			}
			if i > 0 && n.Links[i-1].Name >= l.Name {
				return nil, errors.Errorf("directory entries not sorted or not unique at %q", l.Name)
			}
		} else if l.Name != "" {
			return nil, errors.Errorf("file link %d has a name", i)
		}
		if l.Type > LinkDir {
			return nil, errors.Errorf("invalid link type %d", l.Type)
		}
		buf = protowire.AppendTag(buf, nodeFieldLinks, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeLink(l))
	}

	if n.TotalSize != 0 {
		buf = protowire.AppendTag(buf, nodeFieldTotalSize, protowire.VarintType)
		buf = protowire.AppendVarint(buf, n.TotalSize)
	}

	if len(n.Metadata) > 0 {
		keys := make([]string, 0, len(n.Metadata))
		for k := range n.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var entry []byte
			if k != "" {
				entry = protowire.AppendTag(entry, metaFieldKey, protowire.BytesType)
				entry = protowire.AppendString(entry, k)
			}
			if v := n.Metadata[k]; v != "" {
				entry = protowire.AppendTag(entry, metaFieldValue, protowire.BytesType)
				entry = protowire.AppendString(entry, v)
			}
			buf = protowire.AppendTag(buf, nodeFieldMetadata, protowire.BytesType)
			buf = protowire.AppendBytes(buf, entry)
		}
	}

	return buf, nil
}

func encodeLink(l Link) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, linkFieldHash, protowire.BytesType)
	buf = protowire.AppendBytes(buf, l.Hash[:])
	if l.Name != "" {
		buf = protowire.AppendTag(buf, linkFieldName, protowire.BytesType)
		buf = protowire.AppendString(buf, l.Name)
	}
	if l.Size != 0 {
		buf = protowire.AppendTag(buf, linkFieldSize, protowire.VarintType)
		buf = protowire.AppendVarint(buf, l.Size)
	}
	if l.Type != LinkBlob {
		buf = protowire.AppendTag(buf, linkFieldType, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(l.Type))
	}
	if l.Key != nil {
		buf = protowire.AppendTag(buf, linkFieldKey, protowire.BytesType)
		buf = protowire.AppendBytes(buf, l.Key[:])
	}
	return buf
}

// Decode parses the output of Encode.
// Any input that Encode could not have produced
// yields a *DecodeError and a nil node.
func Decode(b []byte) (*TreeNode, error) {
	n, err := decodeNode(b)
	if err != nil {
		return nil, err
	}
	if n.TotalSize != n.LinksSize() {
		return nil, decodeErrorf("total size %d does not match link sizes %d", n.TotalSize, n.LinksSize())
	}
	reenc, err := Encode(n)
	if err != nil {
		return nil, decodeErrorf("%s", err)
	}
	if !bytes.Equal(reenc, b) {
		return nil, decodeErrorf("non-canonical encoding")
	}
	return n, nil
}

// IsTreeNode tells whether b decodes as a tree node.
func IsTreeNode(b []byte) bool {
	_, err := Decode(b)
	return err == nil
}

func decodeNode(b []byte) (*TreeNode, error) {
	n := new(TreeNode)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case nodeFieldType:
			v, m, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			if v != uint64(NodeFile) && v != uint64(NodeDir) {
				return 0, decodeErrorf("invalid node type %d", v)
			}
			n.Type = NodeType(v)
			return m, nil

		case nodeFieldLinks:
			v, m, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			l, err := decodeLink(v)
			if err != nil {
				return 0, err
			}
			n.Links = append(n.Links, l)
			return m, nil

		case nodeFieldTotalSize:
			v, m, err := consumeVarint(typ, b)
			n.TotalSize = v
			return m, err

		case nodeFieldMetadata:
			v, m, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			var key, val string
			err = consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				s, m, err := consumeBytes(typ, b)
				switch num {
				case metaFieldKey:
					key = string(s)
				case metaFieldValue:
					val = string(s)
				default:
					return 0, decodeErrorf("unknown metadata field %d", num)
				}
				return m, err
			})
			if err != nil {
				return 0, err
			}
			if n.Metadata == nil {
				n.Metadata = make(map[string]string)
			}
			n.Metadata[key] = val
			return m, nil
		}
		return 0, decodeErrorf("unknown node field %d", num)
	})
	if err != nil {
		return nil, err
	}
	if n.Type == 0 {
		return nil, decodeErrorf("missing node type")
	}
	return n, nil
}

func decodeLink(b []byte) (Link, error) {
	var (
		l       Link
		hasHash bool
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case linkFieldHash:
			v, m, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			if len(v) != Size {
				return 0, decodeErrorf("link hash has length %d", len(v))
			}
			l.Hash = HashFromBytes(v)
			hasHash = true
			return m, nil

		case linkFieldName:
			v, m, err := consumeBytes(typ, b)
			l.Name = string(v)
			return m, err

		case linkFieldSize:
			v, m, err := consumeVarint(typ, b)
			l.Size = v
			return m, err

		case linkFieldType:
			v, m, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			if v > uint64(LinkDir) {
				return 0, decodeErrorf("invalid link type %d", v)
			}
			l.Type = LinkType(v)
			return m, nil

		case linkFieldKey:
			v, m, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			if len(v) != Size {
				return 0, decodeErrorf("link key has length %d", len(v))
			}
			l.Key = KeyFromBytes(v)
			return m, nil
		}
		return 0, decodeErrorf("unknown link field %d", num)
	})
	if err != nil {
		return l, err
	}
	if !hasHash {
		return l, decodeErrorf("link without hash")
	}
	return l, nil
}

// consumeFields calls f for each field in b.
// Fields must appear in nondecreasing order;
// only the repeated fields (the links and metadata of a node) may repeat.
func consumeFields(b []byte, f func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	var last protowire.Number
	for len(b) > 0 {
		num, typ, m := protowire.ConsumeTag(b)
		if m < 0 {
			return decodeErrorf("%s", protowire.ParseError(m))
		}
		if num < last || (num == last && typ != protowire.BytesType) {
			return decodeErrorf("field %d out of order", num)
		}
		last = num
		b = b[m:]
		m, err := f(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, decodeErrorf("wire type %d, want varint", typ)
	}
	v, m := protowire.ConsumeVarint(b)
	if m < 0 {
		return 0, 0, decodeErrorf("%s", protowire.ParseError(m))
	}
	return v, m, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, decodeErrorf("wire type %d, want bytes", typ)
	}
	v, m := protowire.ConsumeBytes(b)
	if m < 0 {
		return nil, 0, decodeErrorf("%s", protowire.ParseError(m))
	}
	return v, m, nil
}

// NodeHash encodes n and hashes the encoding.
func NodeHash(n *TreeNode) (Hash, []byte, error) {
	b, err := Encode(n)
	if err != nil {
		return Zero, nil, err
	}
	return Sum(b), b, nil
}
