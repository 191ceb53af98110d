package tree

import (
	"context"
	"testing"

	"github.com/bobg/hashtree"
)

// checkFanout descends through every node under root,
// following link types,
// and fails if any node has more than maxLinks links.
// It returns the number of nodes visited.
func checkFanout(ctx context.Context, t *testing.T, g hashtree.Getter, root hashtree.CID, maxLinks int) int {
	t.Helper()

	n, ok, err := GetTreeNode(ctx, g, root)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		return 0
	}
	return checkNodeFanout(ctx, t, g, n, maxLinks)
}

func checkNodeFanout(ctx context.Context, t *testing.T, g hashtree.Getter, n *hashtree.TreeNode, maxLinks int) int {
	t.Helper()

	if len(n.Links) > maxLinks {
		t.Errorf("node with %d links exceeds limit %d", len(n.Links), maxLinks)
	}
	count := 1
	for _, l := range n.Links {
		if l.Type == hashtree.LinkBlob {
			continue
		}
		sub, ok, err := GetTreeNode(ctx, g, l.CID())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("%s link %s is not a node", l.Type, l.Hash)
		}
		count += checkNodeFanout(ctx, t, g, sub, maxLinks)
	}
	return count
}
