package tree

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// ErrScanFailure is returned when a listing cannot be produced or read.
var ErrScanFailure = errors.New("scan failure")

// minEntryFields is the field count of an `ls -l` entry line:
// permissions, links, owner, group, size, date, time, name.
const minEntryFields = 8

// Lister produces a recursive long-format listing of a directory.
type Lister interface {
	List(ctx context.Context, path string) ([]byte, error)
}

// Builder turns directory listings into trees.
type Builder struct {
	lister  Lister
	exclude []string
}

// NewBuilder returns a Builder. Entries whose path relative to the scanned
// root matches one of the exclude patterns are left out of the tree.
func NewBuilder(lister Lister, exclude []string) *Builder {
	return &Builder{lister: lister, exclude: exclude}
}

// Build lists rootPath and parses the output into a tree.
func (b *Builder) Build(ctx context.Context, rootPath string) (*Node, error) {
	out, err := b.lister.List(ctx, rootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrScanFailure, rootPath, err)
	}
	return Parse(bytes.NewReader(out), rootPath, b.exclude)
}

// Parse reads an `ls -lR` listing of rootPath.
//
// A line starting with "/" and ending with ":" opens the block of that
// directory; the node is created along with any missing ancestors, so blocks
// may arrive in any order. Other non-empty lines with enough fields are
// entries of the current block. Anything else is ignored.
func Parse(r io.Reader, rootPath string, exclude []string) (*Node, error) {
	rootPath = path.Clean(rootPath)
	root := &Node{Name: path.Base(rootPath), IsDirectory: true}

	current, currentRel := root, ""

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "/") && strings.HasSuffix(line, ":") {
			rel := strings.Trim(strings.TrimPrefix(strings.TrimSuffix(line, ":"), rootPath), "/")
			if rel != "" && shouldExclude(rel, exclude) {
				current = nil
				continue
			}
			current, currentRel = findOrCreate(root, rel), rel
			continue
		}

		if line == "" || current == nil {
			continue
		}

		node, ok := parseEntry(line)
		if !ok {
			continue
		}
		if shouldExclude(path.Join(currentRel, node.Name), exclude) {
			continue
		}
		current.Children = append(current.Children, node)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read listing of %s: %w", ErrScanFailure, rootPath, err)
	}

	return root, nil
}

func parseEntry(line string) (*Node, bool) {
	fields := strings.Fields(line)
	if len(fields) < minEntryFields {
		return nil, false
	}

	isDir := strings.HasPrefix(fields[0], "d")
	name := fields[len(fields)-1]
	if name == "." || name == ".." {
		return nil, false
	}

	var size uint64
	if !isDir {
		var err error
		size, err = strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return nil, false
		}
	}

	return &Node{Name: name, IsDirectory: isDir, Size: size}, true
}

// findOrCreate walks rel below root, creating empty directories as needed.
func findOrCreate(root *Node, rel string) *Node {
	node := root
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		child := node.Child(part)
		if child == nil {
			child = &Node{Name: part, IsDirectory: true}
			node.Children = append(node.Children, child)
		}
		node = child
	}
	return node
}
