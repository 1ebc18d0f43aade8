package resources

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/math"
)

func TestUsageDiscardsExactlyOnce(t *testing.T) {
	discards := 0
	u := NewUsage(false, func() { discards++ })

	u.Increase()
	u.Increase()
	u.Decrease()
	assert.Equal(t, 0, discards)
	u.Decrease()
	assert.Equal(t, 1, discards)
	assert.True(t, u.Discarded())

	u.Decrease()
	u.Decrease()
	u.Increase()
	assert.Equal(t, 1, discards)
	assert.Equal(t, 0, u.Count(), "a discarded usage is never resurrected")
	assert.False(t, u.Discard())
	assert.Equal(t, 1, discards)
}

func TestUsageManualMemoryNeverAutoDiscards(t *testing.T) {
	discards := 0
	u := NewUsage(true, func() { discards++ })

	u.Increase()
	u.Decrease()
	u.Decrease()
	assert.Equal(t, 0, discards)
	assert.False(t, u.Discarded())
	assert.Equal(t, 0, u.Count(), "extra releases do not drive the count negative")

	u.Increase()
	assert.Equal(t, 1, u.Count())

	assert.True(t, u.Discard())
	assert.False(t, u.Discard())
	assert.Equal(t, 1, discards)
}

func TestUsageConcurrentAccess(t *testing.T) {
	var mu sync.Mutex
	discards := 0
	u := NewUsage(false, func() {
		mu.Lock()
		discards++
		mu.Unlock()
	})
	u.Increase()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Increase()
			u.Decrease()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, u.Count())

	u.Decrease()
	assert.Equal(t, 1, discards)
}

func TestHandleReleasesResource(t *testing.T) {
	tex := &Texture{SourcePath: "a.png", Width: 1, Height: 1, ChannelCount: 4, Format: TextureFormatRGBA8, Pixels: []uint8{1, 2, 3, 4}}
	h := NewHandle(tex)
	assert.Equal(t, 1, h.Usage.Count())

	h.Acquire()
	h.Release()
	assert.False(t, tex.Released())

	h.Release()
	assert.True(t, tex.Released())
	assert.Nil(t, tex.Image())
}

func TestKindMapping(t *testing.T) {
	cases := map[string]Kind{
		"a/b/wall.PNG":    KindTexture,
		"hero.glb":        KindModel,
		"scene.gltf":      KindModel,
		"ai.lua":          KindScript,
		"save.session":    KindSession,
		"settings.toml":   KindSession,
		"readme":          KindNone,
		"archive.tar.zip": KindNone,
	}
	for path, want := range cases {
		assert.Equal(t, want, KindFromPath(path), path)
	}

	k, err := ParseKind(" Texture ")
	require.NoError(t, err)
	assert.Equal(t, KindTexture, k)

	_, err = ParseKind("none")
	assert.ErrorIs(t, err, core.ErrUnknownKind)
	_, err = ParseKind("font")
	assert.ErrorIs(t, err, core.ErrUnknownKind)
	assert.Contains(t, err.Error(), `"font"`)

	assert.Equal(t, "model", KindModel.String())
	assert.Contains(t, Extensions(KindModel), ".glb")
}

func TestTextureImageView(t *testing.T) {
	tex := &Texture{Width: 2, Height: 2, ChannelCount: 4, Pixels: make([]uint8, 16)}
	tex.Pixels[4] = 255
	img := tex.Image()
	require.NotNil(t, img)
	assert.Equal(t, uint8(255), img.RGBAAt(1, 0).R)
}

func buildModel() *Model {
	root := &ModelNode{Name: "Armature", Transform: math.TransformFromPosition(math.NewVec3(1, 0, 0))}
	hips := &ModelNode{Name: "Hips", Transform: math.TransformFromPosition(math.NewVec3(0, 2, 0))}
	spine := &ModelNode{Name: "Spine", Transform: math.TransformCreate()}
	root.AddChild(hips)
	hips.AddChild(spine)
	root.Clips = []Clip{{Name: "Walk", Channels: 2, Targets: []string{"Hips", "Spine"}}}

	prop := &ModelNode{Name: "Lamp", Transform: math.TransformCreate()}
	return &Model{SourcePath: "scene.gltf", Roots: []*ModelNode{root, prop}}
}

func TestModelLookups(t *testing.T) {
	m := buildModel()

	spine := m.FindNode("Spine")
	require.NotNil(t, spine)
	assert.Equal(t, "Hips", spine.Parent.Name)
	assert.Nil(t, m.FindNode("Head"))

	assert.NotNil(t, m.FindRoot("Lamp"))
	assert.Nil(t, m.FindRoot("Spine"), "only roots are matched")

	assert.Same(t, spine, m.FindByTransform(spine.Transform))
	assert.Nil(t, m.FindByTransform(math.TransformCreate()))

	clip, ok := m.Clip("Armature", "Walk")
	require.True(t, ok)
	assert.Equal(t, 2, clip.Channels)
	_, ok = m.Clip("Lamp", "Walk")
	assert.False(t, ok)

	assert.Equal(t, 4, m.NodeCount())
	assert.Equal(t, []string{"Walk"}, m.ClipNames())

	// child transforms are linked to their parent
	hips := m.FindNode("Hips")
	assert.True(t, hips.Transform.WorldPosition().Compare(math.NewVec3(1, 2, 0), 1e-5))

	var order []string
	m.Walk(func(n *ModelNode, depth int) bool {
		order = append(order, n.Name)
		return n.Name != "Hips"
	})
	assert.Equal(t, []string{"Armature", "Hips"}, order)

	m.Release()
	assert.Nil(t, m.FindNode("Spine"))
}

func TestModelBounds(t *testing.T) {
	m := buildModel()

	lo, hi, ok := m.Bounds()
	require.True(t, ok)
	assert.True(t, lo.Compare(math.NewVec3(0, 0, 0), 1e-5), "lo %+v", lo)
	assert.True(t, hi.Compare(math.NewVec3(1, 2, 0), 1e-5), "hi %+v", hi)
	assert.InDelta(t, 1.118034, float64(m.Radius()), 1e-5)

	empty := &Model{SourcePath: "empty.glb"}
	_, _, ok = empty.Bounds()
	assert.False(t, ok)
	assert.Equal(t, float32(0), empty.Radius())
}

func TestSessionLookup(t *testing.T) {
	s := &Session{Values: map[string]interface{}{
		"player": map[string]interface{}{"name": "Ada", "level": int64(3)},
	}}
	v, ok := s.Lookup("player.name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
	_, ok = s.Lookup("player.name.first")
	assert.False(t, ok)
	_, ok = s.Lookup("world")
	assert.False(t, ok)
}
