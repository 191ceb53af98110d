package hashtree

// LinkType tells what a Link points to.
type LinkType uint8

const (
	// LinkBlob is raw leaf data.
	LinkBlob LinkType = iota

	// LinkFile is an internal node of a chunked file.
	LinkFile

	// LinkDir is a directory node
	// (or a chunked blob that reassembles into one).
	LinkDir
)

func (t LinkType) String() string {
	switch t {
	case LinkBlob:
		return "blob"
	case LinkFile:
		return "file"
	case LinkDir:
		return "dir"
	}
	return "unknown"
}

// NodeType tells what kind of TreeNode this is.
type NodeType uint8

const (
	// NodeFile holds the ordered chunks (or subtrees) of a file.
	NodeFile NodeType = 1

	// NodeDir holds named entries sorted by name.
	NodeDir NodeType = 2
)

// LinkType gives the type of a link pointing to a node of this type.
func (t NodeType) LinkType() LinkType {
	if t == NodeDir {
		return LinkDir
	}
	return LinkFile
}

// Link is an edge from a TreeNode to a child.
type Link struct {
	Hash Hash

	// Name is set only in directory nodes.
	Name string

	// Size is the plaintext size of the referenced subtree,
	// even when the referenced bytes are encrypted.
	Size uint64

	Type LinkType

	// Key decrypts the child, when it is encrypted.
	Key *Key
}

// CID gives the content identifier of the link's target.
func (l Link) CID() CID {
	return CID{Hash: l.Hash, Key: l.Key}
}

// TreeNode is an internal node of a tree.
// Its address is the hash of its encoding
// (or of the encrypted encoding).
type TreeNode struct {
	Type      NodeType
	Links     []Link
	TotalSize uint64
	Metadata  map[string]string
}

// LinksSize is the sum of the sizes of n's links.
func (n *TreeNode) LinksSize() uint64 {
	var total uint64
	for _, l := range n.Links {
		total += l.Size
	}
	return total
}
