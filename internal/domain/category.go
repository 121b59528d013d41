package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Category is a node of the site's navigation tree. Parent and children are
// referenced by id only; the tree owns the nodes.
type Category struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	ParentID string   `json:"parent_id,omitempty"`
	Children []string `json:"children,omitempty"`
	Depth    int      `json:"depth"`
	TopLevel string   `json:"top_level"` // Name of the top-level ancestor (or itself)
	Skipped  bool     `json:"skipped,omitempty"`
}

func (c *Category) IsTopLevel() bool {
	return c.ParentID == ""
}

func (c *Category) IsLeaf() bool {
	return len(c.Children) == 0
}

// CategoryID derives a short stable id from the category URL.
func CategoryID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:6])
}

// CategoryTree is a flat table of categories discovered in one run.
type CategoryTree struct {
	nodes map[string]*Category
	order []string // Discovery order
	roots []string
}

func NewCategoryTree() *CategoryTree {
	return &CategoryTree{
		nodes: make(map[string]*Category),
	}
}

// Add registers a category under its parent. Adding an already known id is a no-op
// and reports false.
func (t *CategoryTree) Add(c *Category) bool {
	if c.ID == "" {
		c.ID = CategoryID(c.URL)
	}
	if _, exists := t.nodes[c.ID]; exists {
		return false
	}

	if parent, ok := t.nodes[c.ParentID]; ok {
		parent.Children = append(parent.Children, c.ID)
		c.Depth = parent.Depth + 1
		c.TopLevel = parent.TopLevel
	} else {
		c.ParentID = ""
		c.Depth = 0
		c.TopLevel = c.Name
		t.roots = append(t.roots, c.ID)
	}

	t.nodes[c.ID] = c
	t.order = append(t.order, c.ID)
	return true
}

func (t *CategoryTree) Get(id string) (*Category, bool) {
	c, ok := t.nodes[id]
	return c, ok
}

func (t *CategoryTree) Parent(id string) (*Category, bool) {
	c, ok := t.nodes[id]
	if !ok || c.ParentID == "" {
		return nil, false
	}
	return t.Get(c.ParentID)
}

func (t *CategoryTree) Roots() []*Category {
	roots := make([]*Category, 0, len(t.roots))
	for _, id := range t.roots {
		roots = append(roots, t.nodes[id])
	}
	return roots
}

func (t *CategoryTree) Len() int {
	return len(t.nodes)
}

// Path returns category names from the top-level ancestor down to id.
func (t *CategoryTree) Path(id string) []string {
	var path []string
	for c, ok := t.nodes[id]; ok; c, ok = t.nodes[c.ParentID] {
		path = append([]string{c.Name}, path...)
		if c.ParentID == "" {
			break
		}
	}
	return path
}

// MarkSkipped excludes a category whose page could not be walked.
func (t *CategoryTree) MarkSkipped(id string) {
	if c, ok := t.nodes[id]; ok {
		c.Skipped = true
	}
}

// Subcategories returns the walkable leaf categories in discovery order. These
// are the pages that list products.
func (t *CategoryTree) Subcategories() []*Category {
	var leaves []*Category
	for _, id := range t.order {
		if c := t.nodes[id]; c.IsLeaf() && !c.Skipped {
			leaves = append(leaves, c)
		}
	}
	return leaves
}

// SubcategoriesOf returns the walkable leaves below the top-level category
// topID, in discovery order.
func (t *CategoryTree) SubcategoriesOf(topID string) []*Category {
	var leaves []*Category
	for _, c := range t.Subcategories() {
		if t.root(c.ID) == topID {
			leaves = append(leaves, c)
		}
	}
	return leaves
}

func (t *CategoryTree) root(id string) string {
	for c, ok := t.nodes[id]; ok; c, ok = t.nodes[c.ParentID] {
		if c.ParentID == "" {
			return c.ID
		}
	}
	return ""
}
