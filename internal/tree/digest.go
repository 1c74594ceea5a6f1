package tree

import (
	"encoding/hex"
	"fmt"

	mt "github.com/txaty/go-merkletree"

	"snapvault/internal/hash"
)

type leaf []byte

func (l leaf) Serialize() ([]byte, error) {
	return l, nil
}

// Digest returns the Merkle root over every node of the tree, taken in
// depth-first order. Each leaf is the node's path, directory flag and size,
// so the digest changes whenever Equal would report a difference.
func Digest(root *Node) (string, error) {
	var blocks []mt.DataBlock
	Walk(root, func(p string, n *Node) {
		blocks = append(blocks, leaf(fmt.Sprintf("%s\x00%t\x00%d", p, n.IsDirectory, n.Size)))
	})

	// go-merkletree needs at least two blocks
	if len(blocks) < 2 {
		data, _ := blocks[0].Serialize()
		return hash.Hex(data), nil
	}

	tree, err := mt.New(&mt.Config{
		HashFunc: hash.XXHashFunc,
		Mode:     mt.ModeTreeBuild,
	}, blocks)
	if err != nil {
		return "", fmt.Errorf("failed to build merkle tree: %w", err)
	}
	return hex.EncodeToString(tree.Root), nil
}
