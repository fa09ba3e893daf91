// Package index builds the local document tree for a synchronization run.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauern/confsync/internal/logging"
	"github.com/klauern/confsync/internal/model"
	"github.com/klauern/confsync/internal/scanner"
)

// Build walks root, scans every matched document and assembles the
// DocumentNode tree mirroring the directory structure, along with the empty
// PageIndex populated later during identity resolution. Directories come
// before files, both in case-insensitive name order, so repeated runs
// traverse nodes identically.
//
// A root pointing at a single document yields a single-node tree.
func Build(root string, matcher *Matcher) (*model.DocumentNode, *model.PageIndex, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("indexing %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("indexing %s: %w", root, err)
	}

	if !info.IsDir() {
		node, err := documentNode(absRoot)
		if err != nil {
			return nil, nil, err
		}
		return node, model.NewPageIndex(), nil
	}

	node, err := directoryNode(absRoot, matcher)
	if err != nil {
		return nil, nil, err
	}
	if node == nil {
		node = &model.DocumentNode{AbsolutePath: absRoot, Synchronized: true}
	}
	return node, model.NewPageIndex(), nil
}

// directoryNode indexes a directory subtree. It returns nil for directories
// that contribute nothing: no index document and no matched descendants.
func directoryNode(dir string, matcher *Matcher) (*model.DocumentNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return strings.ToLower(a.Name()) < strings.ToLower(b.Name())
	})

	node := &model.DocumentNode{AbsolutePath: dir, Synchronized: true}

	// An index document stands in for the directory itself: its page becomes
	// the parent of the sibling documents.
	indexName := ""
	for _, candidate := range []string{"index.md", "README.md"} {
		for _, entry := range entries {
			if !entry.IsDir() && entry.Name() == candidate && matcher.Document(candidate) {
				indexName = candidate
				break
			}
		}
		if indexName != "" {
			break
		}
	}
	if indexName != "" {
		indexDoc, err := documentNode(filepath.Join(dir, indexName))
		if err != nil {
			return nil, err
		}
		node = indexDoc
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)
		if name == indexName && !entry.IsDir() {
			continue
		}
		switch {
		case entry.IsDir():
			if matcher.Excluded(name) {
				continue
			}
			child, err := directoryNode(path, matcher)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			node.AddChild(child)
		case matcher.Document(name):
			child, err := documentNode(path)
			if err != nil {
				return nil, err
			}
			node.AddChild(child)
		default:
			logging.Debug("skipping entry", logging.Path(path))
		}
	}
	if indexName == "" && len(node.Children) == 0 {
		return nil, nil
	}
	return node, nil
}

func documentNode(path string) (*model.DocumentNode, error) {
	meta, err := scanner.ScanFile(path)
	if err != nil {
		return nil, err
	}
	return &model.DocumentNode{
		AbsolutePath: path,
		PageID:       meta.PageID,
		SpaceKey:     meta.SpaceKey,
		Title:        meta.Title,
		Synchronized: meta.Synchronized,
	}, nil
}
