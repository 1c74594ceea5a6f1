package tree

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type SerializedTree struct {
	Generator string    `json:"generator"`
	Created   time.Time `json:"created"`
	Root      string    `json:"root"`
	Size      string    `json:"size"`
	Digest    string    `json:"digest"`
	Tree      *Node     `json:"tree"`
}

// FormatSize renders bytes with two decimals in the largest fitting
// 1024-based unit, e.g. "0.00 B" or "12.34 MB".
func FormatSize(bytes uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}

	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, units[unit])
}

// Save writes a snapshot of root, scanned from rootPath, to path.
func Save(root *Node, rootPath, totalSize, digest, path string) error {
	serialized := SerializedTree{
		Generator: "snapvault",
		Created:   time.Now(),
		Root:      rootPath,
		Size:      totalSize,
		Digest:    digest,
		Tree:      root,
	}

	data, err := json.MarshalIndent(serialized, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tree: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Load reads a snapshot written by Save.
func Load(path string) (*SerializedTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var serialized SerializedTree
	if err := json.Unmarshal(data, &serialized); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tree: %w", err)
	}
	if serialized.Tree == nil {
		return nil, fmt.Errorf("snapshot %s has no tree", path)
	}

	return &serialized, nil
}
