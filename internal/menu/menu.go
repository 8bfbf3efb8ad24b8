// Package menu defines the hierarchical menu tree that clients ask the
// host application to display, and the paths that identify items within
// it. The protocol server never interprets these trees; it relays them.
package menu

import (
	"encoding/json"
	"fmt"
)

// Item is one node of a menu tree. An item without children is a leaf
// (actionable); an item with children is a submenu. Angle, when set,
// fixes the item's placement in degrees and siblings are distributed
// around the remaining free angles.
type Item struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Icon      string          `json:"icon"`
	IconTheme string          `json:"iconTheme"`
	Data      json.RawMessage `json:"data,omitempty"`
	Children  []Item          `json:"children,omitempty"`
	Angle     *float64        `json:"angle,omitempty"`
}

// IsSubmenu reports whether the item has children to descend into.
func (it Item) IsSubmenu() bool {
	return len(it.Children) > 0
}

// Validate checks the structural invariants of the tree rooted at root:
// every node carries a name and a type, and fixed angles stay within
// [0, 360] degrees.
func Validate(root Item) error {
	return validateAt(root, nil)
}

func validateAt(it Item, at Path) error {
	if it.Name == "" {
		return fmt.Errorf("menu: item at %v has no name", at)
	}
	if it.Type == "" {
		return fmt.Errorf("menu: item %q at %v has no type", it.Name, at)
	}
	if it.Angle != nil && (*it.Angle < 0 || *it.Angle > 360) {
		return fmt.Errorf("menu: item %q at %v has angle %v outside [0, 360]", it.Name, at, *it.Angle)
	}
	for i, child := range it.Children {
		if err := validateAt(child, append(append(Path{}, at...), i)); err != nil {
			return err
		}
	}
	return nil
}

// Path identifies a node by descending child indices from the root. The
// empty path denotes the root itself; the root is never independently
// selectable, only its children are.
type Path []int

// Validate checks that every index is non-negative.
func (p Path) Validate() error {
	for _, idx := range p {
		if idx < 0 {
			return fmt.Errorf("menu: path %v contains negative index", p)
		}
	}
	return nil
}

// Equal reports whether two paths address the same node.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// At resolves a path against a tree and returns the addressed item.
func At(root Item, p Path) (Item, error) {
	node := root
	for depth, idx := range p {
		if idx < 0 || idx >= len(node.Children) {
			return Item{}, fmt.Errorf("menu: path %v leaves the tree at depth %d (item %q has %d children)",
				p, depth, node.Name, len(node.Children))
		}
		node = node.Children[idx]
	}
	return node, nil
}
