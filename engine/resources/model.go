package resources

import (
	"github.com/spaghettifunk/anima-import/engine/math"
)

/**
 * @brief Metadata of one animation clip. Keyframes are not imported.
 */
type Clip struct {
	Name string
	/** @brief Number of animation channels in the clip. */
	Channels int
	/** @brief Names of the nodes the channels target. */
	Targets []string
}

/**
 * @brief A node of a model hierarchy. Transforms are already in the engine basis.
 */
type ModelNode struct {
	Name      string
	Transform *math.Transform
	Parent    *ModelNode
	Children  []*ModelNode
	/** @brief Clips whose channels target this root's subtree. Only set on roots. */
	Clips []Clip
}

// AddChild links child under n, transform included.
func (n *ModelNode) AddChild(child *ModelNode) {
	child.Parent = n
	if child.Transform != nil {
		child.Transform.SetParent(n.Transform)
	}
	n.Children = append(n.Children, child)
}

/**
 * @brief An imported scene: a forest of root nodes.
 */
type Model struct {
	SourcePath string
	Roots      []*ModelNode
}

func (m *Model) Kind() Kind   { return KindModel }
func (m *Model) Path() string { return m.SourcePath }
func (m *Model) Release()     { m.Roots = nil }

// Walk visits every node depth first. Returning false from fn stops the walk.
func (m *Model) Walk(fn func(node *ModelNode, depth int) bool) {
	var visit func(n *ModelNode, depth int) bool
	visit = func(n *ModelNode, depth int) bool {
		if !fn(n, depth) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c, depth+1) {
				return false
			}
		}
		return true
	}
	for _, r := range m.Roots {
		if !visit(r, 0) {
			return
		}
	}
}

// FindNode returns the first node named name, depth first.
func (m *Model) FindNode(name string) *ModelNode {
	var found *ModelNode
	m.Walk(func(n *ModelNode, _ int) bool {
		if n.Name == name {
			found = n
			return false
		}
		return true
	})
	return found
}

func (m *Model) FindRoot(name string) *ModelNode {
	for _, r := range m.Roots {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// FindByTransform returns the node owning t.
func (m *Model) FindByTransform(t *math.Transform) *ModelNode {
	if t == nil {
		return nil
	}
	var found *ModelNode
	m.Walk(func(n *ModelNode, _ int) bool {
		if n.Transform == t {
			found = n
			return false
		}
		return true
	})
	return found
}

// Clip looks up a clip on the named root.
func (m *Model) Clip(rootName, clipName string) (*Clip, bool) {
	root := m.FindRoot(rootName)
	if root == nil {
		return nil, false
	}
	for i := range root.Clips {
		if root.Clips[i].Name == clipName {
			return &root.Clips[i], true
		}
	}
	return nil, false
}

// ClipNames lists the clips of every root in root order.
func (m *Model) ClipNames() []string {
	var names []string
	for _, r := range m.Roots {
		for _, c := range r.Clips {
			names = append(names, c.Name)
		}
	}
	return names
}

func (m *Model) NodeCount() int {
	count := 0
	m.Walk(func(*ModelNode, int) bool {
		count++
		return true
	})
	return count
}

/**
 * @brief Returns the smallest box holding the world position of every node.
 * @return lo and hi corners; ok is false when the model has no nodes.
 */
func (m *Model) Bounds() (lo, hi math.Vec3, ok bool) {
	m.Walk(func(n *ModelNode, _ int) bool {
		p := n.Transform.WorldPosition()
		if !ok {
			lo, hi, ok = p, p, true
			return true
		}
		lo = math.NewVec3(min(lo.X, p.X), min(lo.Y, p.Y), min(lo.Z, p.Z))
		hi = math.NewVec3(max(hi.X, p.X), max(hi.Y, p.Y), max(hi.Z, p.Z))
		return true
	})
	return lo, hi, ok
}

// Radius is half the diagonal of Bounds, 0 for an empty model.
func (m *Model) Radius() float32 {
	lo, hi, ok := m.Bounds()
	if !ok {
		return 0
	}
	return hi.Sub(lo).Length() / 2
}
