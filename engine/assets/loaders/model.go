package loaders

import (
	"bytes"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/math"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/transfer"
)

const noParent = -1

// ModelLoader imports the node hierarchy, transforms and animation clip
// metadata of glTF 2.0 scenes (.gltf with embedded buffers, or .glb).
// Transforms are converted to the engine basis on the worker.
//
// The conversion treats the source as a Z-up export. glTF itself is Y-up, so
// scenes written by Y-up tools come out lying on their side unless
// PitchOffset (-90 for those) turns the roots upright.
type ModelLoader struct {
	UnitScale   float32
	PitchOffset float32
}

/**
 * @brief The wire form of a model inside the transfer buffer. Nodes are
 * flattened depth first; parents always precede their children.
 */
type modelPayload struct {
	Nodes []nodeRecord `msgpack:"nodes"`
	Clips []clipRecord `msgpack:"clips"`
}

type nodeRecord struct {
	Name     string     `msgpack:"name"`
	Parent   int        `msgpack:"parent"`
	Position [3]float32 `msgpack:"position"`
	Rotation [4]float32 `msgpack:"rotation"`
	Scale    [3]float32 `msgpack:"scale"`
}

type clipRecord struct {
	Root     int      `msgpack:"root"`
	Name     string   `msgpack:"name"`
	Channels int      `msgpack:"channels"`
	Targets  []string `msgpack:"targets"`
}

func (ml *ModelLoader) Kind() resources.Kind { return resources.KindModel }
func (ml *ModelLoader) FieldCount() int      { return transfer.ModelFieldCount }

func (ml *ModelLoader) Capacity(limits Limits) int {
	return transfer.HeaderSize(transfer.ModelFieldCount) + limits.MaxModelBytes
}

func (ml *ModelLoader) Encode(path string, data []byte, buf *transfer.Buffer) error {
	doc := &gltf.Document{}
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return core.NewImportError(core.ErrFormat, "%s: cannot parse glTF: %v", path, err)
	}

	payload, err := ml.flatten(path, doc)
	if err != nil {
		return err
	}

	encoded, err := msgpack.Marshal(payload)
	if err != nil {
		return core.NewImportError(core.ErrFormat, "%s: cannot encode model: %v", path, err)
	}

	buf.SetField(transfer.FieldKind, uint32(resources.KindModel))
	buf.SetField(transfer.FieldModelNodeCount, uint32(len(payload.Nodes)))
	buf.SetField(transfer.FieldModelAnimationCount, uint32(len(payload.Clips)))
	return buf.Write(encoded)
}

func (ml *ModelLoader) Decode(path string, header transfer.Header, payload []byte) (resources.Resource, error) {
	if err := checkKind(header, resources.KindModel); err != nil {
		return nil, err
	}

	var p modelPayload
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return nil, core.NewImportError(core.ErrFormat, "%s: corrupt model payload: %v", path, err)
	}
	if uint32(len(p.Nodes)) != header.Field(transfer.FieldModelNodeCount) {
		return nil, core.NewImportError(core.ErrFormat, "%s: model has %d nodes, header says %d",
			path, len(p.Nodes), header.Field(transfer.FieldModelNodeCount))
	}
	if uint32(len(p.Clips)) != header.Field(transfer.FieldModelAnimationCount) {
		return nil, core.NewImportError(core.ErrFormat, "%s: model has %d clips, header says %d",
			path, len(p.Clips), header.Field(transfer.FieldModelAnimationCount))
	}

	model := &resources.Model{SourcePath: path}
	nodes := make([]*resources.ModelNode, len(p.Nodes))
	for i, rec := range p.Nodes {
		node := &resources.ModelNode{
			Name: rec.Name,
			Transform: math.TransformFromPositionRotationScale(
				math.NewVec3(rec.Position[0], rec.Position[1], rec.Position[2]),
				math.Quaternion{X: rec.Rotation[0], Y: rec.Rotation[1], Z: rec.Rotation[2], W: rec.Rotation[3]},
				math.NewVec3(rec.Scale[0], rec.Scale[1], rec.Scale[2]),
			),
		}
		nodes[i] = node

		switch {
		case rec.Parent == noParent:
			model.Roots = append(model.Roots, node)
		case rec.Parent >= 0 && rec.Parent < i:
			nodes[rec.Parent].AddChild(node)
		default:
			return nil, core.NewImportError(core.ErrFormat, "%s: node %d has invalid parent %d", path, i, rec.Parent)
		}
	}

	for _, c := range p.Clips {
		if c.Root < 0 || c.Root >= len(nodes) || nodes[c.Root].Parent != nil {
			return nil, core.NewImportError(core.ErrFormat, "%s: clip '%s' bound to invalid root %d", path, c.Name, c.Root)
		}
		root := nodes[c.Root]
		root.Clips = append(root.Clips, resources.Clip{
			Name:     c.Name,
			Channels: c.Channels,
			Targets:  c.Targets,
		})
	}

	return model, nil
}

// flatten walks the default scene and converts every node into the engine basis.
func (ml *ModelLoader) flatten(path string, doc *gltf.Document) (*modelPayload, error) {
	roots := sceneRoots(doc)
	payload := &modelPayload{}

	// glTF node index -> index in payload.Nodes, and -> owning root record
	recordOf := make(map[uint32]int, len(doc.Nodes))
	rootOf := make(map[uint32]int, len(doc.Nodes))

	var visit func(idx uint32, parent, root int) error
	visit = func(idx uint32, parent, root int) error {
		if int(idx) >= len(doc.Nodes) || doc.Nodes[idx] == nil {
			return core.NewImportError(core.ErrFormat, "%s: node index %d out of range", path, idx)
		}
		if _, seen := recordOf[idx]; seen {
			return core.NewImportError(core.ErrFormat, "%s: node %d is referenced more than once", path, idx)
		}

		n := doc.Nodes[idx]
		self := len(payload.Nodes)
		if parent == noParent {
			root = self
		}
		recordOf[idx] = self
		rootOf[idx] = root
		payload.Nodes = append(payload.Nodes, ml.convertNode(n, parent, idx))

		for _, child := range n.Children {
			if err := visit(child, self, root); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range roots {
		if err := visit(r, noParent, 0); err != nil {
			return nil, err
		}
	}

	for i, anim := range doc.Animations {
		if anim == nil {
			continue
		}
		name := anim.Name
		if name == "" {
			name = defaultName("clip", uint32(i))
		}
		payload.Clips = append(payload.Clips, groupClip(name, anim, recordOf, rootOf, payload)...)
	}

	return payload, nil
}

// groupClip splits one animation into a clip per root its channels target.
// Channels targeting nodes outside the scene are ignored.
func groupClip(name string, anim *gltf.Animation, recordOf, rootOf map[uint32]int, payload *modelPayload) []clipRecord {
	var clips []clipRecord
	byRoot := make(map[int]int)
	for _, ch := range anim.Channels {
		if ch == nil || ch.Target.Node == nil {
			continue
		}
		target := *ch.Target.Node
		if _, ok := recordOf[target]; !ok {
			core.LogWarn("animation '%s' targets node %d outside the scene", name, target)
			continue
		}
		root := rootOf[target]
		i, ok := byRoot[root]
		if !ok {
			i = len(clips)
			byRoot[root] = i
			clips = append(clips, clipRecord{Root: root, Name: name})
		}
		clips[i].Channels++
		targetName := payload.Nodes[recordOf[target]].Name
		if !contains(clips[i].Targets, targetName) {
			clips[i].Targets = append(clips[i].Targets, targetName)
		}
	}
	return clips
}

func (ml *ModelLoader) convertNode(n *gltf.Node, parent int, idx uint32) nodeRecord {
	translation, rotation, scale := nodeTRS(n)

	position := math.ConvertVector(math.NewVec3(translation[0], translation[1], translation[2]), ml.UnitScale)

	pitchOffset := float32(0)
	if parent == noParent {
		pitchOffset = ml.PitchOffset
	}
	euler := math.QuaternionToEuler(math.Quaternion{X: rotation[0], Y: rotation[1], Z: rotation[2], W: rotation[3]})
	q := math.ConvertRotation(euler, pitchOffset)

	name := n.Name
	if name == "" {
		name = defaultName("node", idx)
	}

	return nodeRecord{
		Name:     name,
		Parent:   parent,
		Position: [3]float32{position.X, position.Y, position.Z},
		Rotation: [4]float32{q.X, q.Y, q.Z, q.W},
		// scale is a magnitude per axis: relabel the axes, no flip and no unit change
		Scale: [3]float32{scale[0], scale[2], scale[1]},
	}
}

var identityMatrix = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// nodeTRS returns the node transform as translation, rotation (x, y, z, w)
// and scale, decomposing an authored matrix when one is present.
func nodeTRS(n *gltf.Node) ([3]float32, [4]float32, [3]float32) {
	if n.Matrix != identityMatrix && n.Matrix != ([16]float32{}) {
		return decomposeMatrix(n.Matrix)
	}

	rotation := n.Rotation
	if rotation == ([4]float32{}) {
		rotation = [4]float32{0, 0, 0, 1}
	}
	scale := n.Scale
	if scale == ([3]float32{}) {
		scale = [3]float32{1, 1, 1}
	}
	return n.Translation, rotation, scale
}

// decomposeMatrix splits a column major TRS matrix. Shear is dropped.
func decomposeMatrix(raw [16]float32) ([3]float32, [4]float32, [3]float32) {
	m := mgl32.Mat4(raw)

	translation := m.Col(3).Vec3()
	scale := mgl32.Vec3{m.Col(0).Vec3().Len(), m.Col(1).Vec3().Len(), m.Col(2).Vec3().Len()}
	if m.Det() < 0 {
		scale[0] = -scale[0]
	}

	rot := mgl32.Ident4()
	for c := 0; c < 3; c++ {
		if scale[c] == 0 {
			continue
		}
		for r := 0; r < 3; r++ {
			rot[c*4+r] = m[c*4+r] / scale[c]
		}
	}
	q := mgl32.Mat4ToQuat(rot).Normalize()

	return [3]float32{translation[0], translation[1], translation[2]},
		[4]float32{q.V[0], q.V[1], q.V[2], q.W},
		[3]float32{scale[0], scale[1], scale[2]}
}

// sceneRoots returns the root nodes of the default scene. Documents without
// scenes use every node that is nobody's child.
func sceneRoots(doc *gltf.Document) []uint32 {
	if len(doc.Scenes) > 0 {
		idx := uint32(0)
		if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
			idx = *doc.Scene
		}
		if s := doc.Scenes[idx]; s != nil {
			return s.Nodes
		}
	}

	isChild := make(map[uint32]bool)
	for _, n := range doc.Nodes {
		if n == nil {
			continue
		}
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var roots []uint32
	for i := range doc.Nodes {
		if !isChild[uint32(i)] {
			roots = append(roots, uint32(i))
		}
	}
	return roots
}

func defaultName(prefix string, idx uint32) string {
	return fmt.Sprintf("%s_%d", prefix, idx)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
