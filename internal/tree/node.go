package tree

// Node is one entry of a scanned directory tree. Children keep the order in
// which the listing reported them.
type Node struct {
	Name        string  `json:"name"`
	IsDirectory bool    `json:"isDirectory"`
	Size        uint64  `json:"size"`
	Children    []*Node `json:"children,omitempty"`
}

// Child returns the first child named name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Equal reports whether a and b have the same names, directory flags, sizes
// and ordered children, recursively.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.IsDirectory != b.IsDirectory || a.Size != b.Size {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// Walk calls fn for n and every descendant in depth-first order. The path
// passed to fn is slash separated and starts with the root's name.
func Walk(n *Node, fn func(p string, n *Node)) {
	walk(n, n.Name, fn)
}

func walk(n *Node, p string, fn func(string, *Node)) {
	fn(p, n)
	for _, c := range n.Children {
		walk(c, p+"/"+c.Name, fn)
	}
}
