package squashfs

import (
	"fmt"
	"path"
)

const none = -1

// node is one object of the decoded hierarchy. Links are indices into the
// owning tree's node slice.
type node struct {
	name        string
	inode       Inode
	parent      int
	firstChild  int
	nextSibling int
}

type tree struct {
	nodes []node
}

func (t *tree) add(n node) int {
	n.firstChild, n.nextSibling = none, none
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

// buildTree materializes the whole hierarchy reachable from the root
// inode. Directories already visited are not descended into again, so a
// corrupt image cannot loop. Directories cannot be hard linked, so each
// owns a distinct inode and maxDirs bounds them; the entries of a listing
// are bounded by its size.
func buildTree(d *dirReader, rootRef uint64, maxDirs int) (*tree, error) {
	root, err := d.inode(rootRef)
	if err != nil {
		return nil, fmt.Errorf("reading root inode: %w", err)
	}
	if !root.Type.IsDir() {
		return nil, fmt.Errorf("squashfs: root inode is a %d, not a directory", root.Type)
	}

	t := &tree{}
	t.add(node{inode: root, parent: none})
	visited := map[uint64]bool{rootRef: true}
	dirs := 1

	// nodes are appended while walking, so the slice doubles as the queue
	for i := 0; i < len(t.nodes); i++ {
		if !t.nodes[i].inode.Type.IsDir() {
			continue
		}
		entries, err := d.readDir(t.nodes[i].inode)
		if err != nil {
			return nil, fmt.Errorf("listing %q: %w", t.path(i), err)
		}

		last := none
		for _, e := range entries {
			if e.Name == "" || e.Name == "." || e.Name == ".." || path.Base(e.Name) != e.Name {
				return nil, fmt.Errorf("squashfs: invalid name %q in %q", e.Name, t.path(i))
			}
			if e.Type.IsDir() {
				if visited[e.InodeRef] {
					continue
				}
				visited[e.InodeRef] = true
				if dirs++; dirs > maxDirs {
					return nil, fmt.Errorf("squashfs: more than %d directories in tree", maxDirs)
				}
			}

			in, err := d.inode(e.InodeRef)
			if err != nil {
				return nil, fmt.Errorf("reading inode of %q: %w", e.Name, err)
			}
			child := t.add(node{name: e.Name, inode: in, parent: i})
			if last == none {
				t.nodes[i].firstChild = child
			} else {
				t.nodes[last].nextSibling = child
			}
			last = child
		}
	}
	return t, nil
}

// path returns the slash separated path of node i, relative to the root.
func (t *tree) path(i int) string {
	var parts []string
	for ; i != none && t.nodes[i].parent != none; i = t.nodes[i].parent {
		parts = append(parts, t.nodes[i].name)
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return path.Join(parts...)
}

// walk visits every node below the root in pre-order: a directory comes
// before its children.
func (t *tree) walk(fn func(i int, p string) error) error {
	var visit func(i int, prefix string) error
	visit = func(i int, prefix string) error {
		for c := t.nodes[i].firstChild; c != none; c = t.nodes[c].nextSibling {
			p := t.nodes[c].name
			if prefix != "" {
				p = prefix + "/" + p
			}
			if err := fn(c, p); err != nil {
				return err
			}
			if t.nodes[c].inode.Type.IsDir() {
				if err := visit(c, p); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return visit(0, "")
}
