package compare

import "snapvault/internal/tree"

// Render draws root as an uncolored tree: every name is Unchanged and file
// sizes carry SizeSuffix.
func Render(root *tree.Node) *Report {
	b := &builder{}
	b.node(nil, root, "", true, false)
	return b.report()
}

// Compare draws newTree and colors each node against oldTree. Children are
// matched by name (first match wins). Nodes missing from oldTree are New,
// files whose size differs are Changed. Deletions are not shown. A nil
// oldTree gives the same output as Render.
func Compare(oldTree, newTree *tree.Node) *Report {
	if oldTree == nil {
		return Render(newTree)
	}
	b := &builder{}
	b.node(oldTree, newTree, "", true, true)
	return b.report()
}

func classify(oldNode, newNode *tree.Node) Color {
	switch {
	case oldNode == nil:
		return New
	case !newNode.IsDirectory && oldNode.Size != newNode.Size:
		return Changed
	default:
		return Unchanged
	}
}

// node writes one line for n and recurses into its children. The root is
// drawn without a connector; its children are indented by four spaces.
func (b *builder) node(oldNode, n *tree.Node, prefix string, isLast, diff bool) {
	switch {
	case prefix == "":
	case isLast:
		b.write(prefix + "└── ")
	default:
		b.write(prefix + "├── ")
	}

	color := Unchanged
	if diff {
		color = classify(oldNode, n)
	}

	nameStart := b.units
	b.write(n.Name)
	b.span(nameStart, color)

	if !n.IsDirectory {
		sizeStart := b.units
		b.write(" (" + tree.FormatSize(n.Size) + ")")
		b.span(sizeStart, SizeSuffix)
	}
	b.write("\n")

	if !n.IsDirectory {
		return
	}

	var childPrefix string
	switch {
	case prefix == "":
		childPrefix = "    "
	case isLast:
		childPrefix = prefix + "    "
	default:
		childPrefix = prefix + "│   "
	}

	for i, child := range n.Children {
		var oldChild *tree.Node
		if diff {
			oldChild = oldNode.Child(child.Name)
		}
		b.node(oldChild, child, childPrefix, i == len(n.Children)-1, diff)
	}
}
