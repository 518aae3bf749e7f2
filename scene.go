package raystack

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Plane tessellation. The unit plane is a planeRows×planeCols quad grid so
// the texture is stretched across many primitives, matching the defect
// reproduction scene.
const (
	planeRows = 16
	planeCols = 16
)

// Scene holds the committed top-level objects a render call needs. All
// handles are owned by the assembler's resource stack.
type Scene struct {
	World       Handle
	Camera      Handle
	Renderer    Handle
	FrameBuffer Handle
	Width       int
	Height      int
}

// SceneAssembler builds the reproduction scene: a solid black triangle
// behind a noise-textured plane. The plane fully occludes the triangle, so
// any triangle color or background bleeding through the plane means the
// texture was marshaled with unwanted transparency.
//
// Every handle the assembler creates is registered with its resource stack
// immediately; when assembly fails partway, closing the stack releases
// everything acquired so far.
type SceneAssembler struct {
	eng   Engine
	stack *ResourceStack
	log   Logger
}

func NewSceneAssembler(eng Engine, stack *ResourceStack, log Logger) *SceneAssembler {
	if log == nil {
		log = NewNopLogger()
	}
	return &SceneAssembler{eng: eng, stack: stack, log: log}
}

// track hands ownership of h to the resource stack. On registration
// failure the handle is released immediately so it cannot leak.
func (a *SceneAssembler) track(h Handle) (Handle, error) {
	if _, err := a.stack.Acquire(h, a.eng.Release); err != nil {
		_ = a.eng.Release(h)
		return NilHandle, err
	}
	return h, nil
}

// data copies an array view into an owned, committed engine buffer and
// registers it for teardown.
func (a *SceneAssembler) data(v ArrayView) (Handle, error) {
	h, err := MakeBuffer(a.eng, v, false)
	if err != nil {
		return NilHandle, err
	}
	return a.track(h)
}

// handleData copies a handle sequence into an owned, committed buffer of
// object references and registers it for teardown.
func (a *SceneAssembler) handleData(t DataType, handles []Handle) (Handle, error) {
	h, err := MakeHandleBuffer(a.eng, t, handles)
	if err != nil {
		return NilHandle, err
	}
	return a.track(h)
}

// object creates a scene object and registers it for teardown. The object
// still needs its properties set and a commit.
func (a *SceneAssembler) object(kind ObjectKind, subtype string) (Handle, error) {
	h, err := a.eng.NewObject(kind, subtype)
	if err != nil {
		return NilHandle, foreignErr("NewObject", err)
	}
	return a.track(h)
}

func (a *SceneAssembler) commit(h Handle) error {
	return foreignErr("Commit", a.eng.Commit(h))
}

// meshInstance wires geometry + material into the instance chain the
// engine expects: geometric model, model list, group, instance.
func (a *SceneAssembler) meshInstance(geometry, material Handle) (Handle, error) {
	model, err := a.object(KindGeometricModel, "")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetObject(model, "geometry", geometry); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.eng.SetObject(model, "material", material); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.commit(model); err != nil {
		return NilHandle, err
	}

	models, err := a.handleData(TypeGeometricModel, []Handle{model})
	if err != nil {
		return NilHandle, err
	}

	group, err := a.object(KindGroup, "")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetObject(group, "geometry", models); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.commit(group); err != nil {
		return NilHandle, err
	}

	instance, err := a.object(KindInstance, "")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetObject(instance, "group", group); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.commit(instance); err != nil {
		return NilHandle, err
	}
	return instance, nil
}

// BlackTriangle builds the occluded object: one solid black triangle at
// z = -0.3, centered behind the plane.
func (a *SceneAssembler) BlackTriangle() (Handle, error) {
	positions := []mgl32.Vec3{
		{0.3, 0.3, -0.3},
		{0.7, 0.3, -0.3},
		{0.5, 0.7, -0.3},
	}
	indices := [][3]uint32{{0, 1, 2}}

	posView, err := ViewOf(positions, TypeVec3f)
	if err != nil {
		return NilHandle, err
	}
	position, err := a.data(posView)
	if err != nil {
		return NilHandle, err
	}

	idxView, err := ViewOf(indices, TypeVec3ui)
	if err != nil {
		return NilHandle, err
	}
	index, err := a.data(idxView)
	if err != nil {
		return NilHandle, err
	}

	geometry, err := a.object(KindGeometry, "mesh")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetObject(geometry, "vertex.position", position); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.eng.SetObject(geometry, "index", index); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.commit(geometry); err != nil {
		return NilHandle, err
	}

	material, err := a.object(KindMaterial, "obj")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetVec3f(material, "kd", mgl32.Vec3{0, 0, 0}); err != nil {
		return NilHandle, foreignErr("SetVec3f", err)
	}
	if err := a.commit(material); err != nil {
		return NilHandle, err
	}

	return a.meshInstance(geometry, material)
}

// TexturedPlane builds the occluder: a unit plane of planeRows×planeCols
// quads at z = 0, textured with a resolution×resolution noise texture. The
// texture has no alpha channel; rendered pixels covered by the plane must
// come out fully opaque.
func (a *SceneAssembler) TexturedPlane(resolution int) (Handle, error) {
	nvert := (planeRows + 1) * (planeCols + 1)
	nquad := planeRows * planeCols

	positions := make([]mgl32.Vec3, 0, nvert)
	texcoords := make([]mgl32.Vec2, 0, nvert)
	for row := 0; row <= planeRows; row++ {
		for col := 0; col <= planeCols; col++ {
			u := float32(col) / planeCols
			v := float32(row) / planeRows
			positions = append(positions, mgl32.Vec3{u, v, 0})
			texcoords = append(texcoords, mgl32.Vec2{u, v})
		}
	}

	indices := make([][4]uint32, 0, nquad)
	for row := 0; row < planeRows; row++ {
		for col := 0; col < planeCols; col++ {
			base := uint32(col + row*(planeCols+1))
			indices = append(indices, [4]uint32{
				base,
				base + planeCols + 1,
				base + planeCols + 2,
				base + 1,
			})
		}
	}

	posView, err := ViewOf(positions, TypeVec3f)
	if err != nil {
		return NilHandle, err
	}
	position, err := a.data(posView)
	if err != nil {
		return NilHandle, err
	}

	uvView, err := ViewOf(texcoords, TypeVec2f)
	if err != nil {
		return NilHandle, err
	}
	texcoord, err := a.data(uvView)
	if err != nil {
		return NilHandle, err
	}

	idxView, err := ViewOf(indices, TypeVec4ui)
	if err != nil {
		return NilHandle, err
	}
	index, err := a.data(idxView)
	if err != nil {
		return NilHandle, err
	}

	geometry, err := a.object(KindGeometry, "mesh")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetObject(geometry, "vertex.position", position); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.eng.SetObject(geometry, "vertex.texcoord", texcoord); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.eng.SetObject(geometry, "index", index); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.commit(geometry); err != nil {
		return NilHandle, err
	}

	texture, err := a.noiseTexture(resolution)
	if err != nil {
		return NilHandle, err
	}

	material, err := a.object(KindMaterial, "obj")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetObject(material, "map_kd", texture); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.commit(material); err != nil {
		return NilHandle, err
	}

	return a.meshInstance(geometry, material)
}

// noiseTexture marshals the generated noise into an owned engine buffer
// and wraps it as an RGB float texture. This is the exact buffer path the
// harness exists to exercise: a small, near-square, three-channel float
// array crossing the engine boundary.
func (a *SceneAssembler) noiseTexture(resolution int) (Handle, error) {
	texels := NoiseTexture(resolution, mgl32.Vec3{})

	view, err := ViewOf(texels, TypeVec3f, resolution, resolution)
	if err != nil {
		return NilHandle, err
	}
	a.log.Debugf("noise texture: shape %v strides %v", view.Shape, view.Strides)
	data, err := a.data(view)
	if err != nil {
		return NilHandle, err
	}

	texture, err := a.object(KindTexture, "texture2d")
	if err != nil {
		return NilHandle, err
	}
	if err := a.eng.SetObject(texture, "data", data); err != nil {
		return NilHandle, foreignErr("SetObject", err)
	}
	if err := a.eng.SetUint(texture, "format", uint32(TextureRGB32F)); err != nil {
		return NilHandle, foreignErr("SetUint", err)
	}
	if err := a.commit(texture); err != nil {
		return NilHandle, err
	}
	return texture, nil
}

// Build assembles the full scene and returns the handles a render call
// needs. On error the caller closes the resource stack to unwind whatever
// was acquired before the failure.
func (a *SceneAssembler) Build(cfg Config) (Scene, error) {
	if err := cfg.Validate(); err != nil {
		return Scene{}, err
	}

	triangle, err := a.BlackTriangle()
	if err != nil {
		return Scene{}, err
	}
	plane, err := a.TexturedPlane(cfg.Resolution)
	if err != nil {
		return Scene{}, err
	}

	instances, err := a.handleData(TypeInstance, []Handle{triangle, plane})
	if err != nil {
		return Scene{}, err
	}

	light, err := a.object(KindLight, "ambient")
	if err != nil {
		return Scene{}, err
	}
	if err := a.eng.SetVec3f(light, "color", mgl32.Vec3{1, 1, 1}); err != nil {
		return Scene{}, foreignErr("SetVec3f", err)
	}
	if err := a.eng.SetFloat(light, "intensity", 0.5); err != nil {
		return Scene{}, foreignErr("SetFloat", err)
	}
	if err := a.commit(light); err != nil {
		return Scene{}, err
	}

	lights, err := a.handleData(TypeLight, []Handle{light})
	if err != nil {
		return Scene{}, err
	}

	world, err := a.object(KindWorld, "")
	if err != nil {
		return Scene{}, err
	}
	if err := a.eng.SetObject(world, "instance", instances); err != nil {
		return Scene{}, foreignErr("SetObject", err)
	}
	if err := a.eng.SetObject(world, "light", lights); err != nil {
		return Scene{}, foreignErr("SetObject", err)
	}
	if err := a.commit(world); err != nil {
		return Scene{}, err
	}

	renderer, err := a.object(KindRenderer, "scivis")
	if err != nil {
		return Scene{}, err
	}
	if err := a.eng.SetInt(renderer, "pixelSamples", 1); err != nil {
		return Scene{}, foreignErr("SetInt", err)
	}
	if err := a.eng.SetVec4f(renderer, "backgroundColor", mgl32.Vec4{0.8, 0.2, 0.2, 1.0}); err != nil {
		return Scene{}, foreignErr("SetVec4f", err)
	}
	if err := a.commit(renderer); err != nil {
		return Scene{}, err
	}

	camera, err := a.object(KindCamera, "orthographic")
	if err != nil {
		return Scene{}, err
	}
	if err := a.eng.SetFloat(camera, "height", 1.02); err != nil {
		return Scene{}, foreignErr("SetFloat", err)
	}
	if err := a.eng.SetVec3f(camera, "position", mgl32.Vec3{0.5, 0.5, 1.0}); err != nil {
		return Scene{}, foreignErr("SetVec3f", err)
	}
	if err := a.eng.SetVec3f(camera, "direction", mgl32.Vec3{0, 0, -1}); err != nil {
		return Scene{}, foreignErr("SetVec3f", err)
	}
	if err := a.eng.SetVec3f(camera, "up", mgl32.Vec3{0, 1, 0}); err != nil {
		return Scene{}, foreignErr("SetVec3f", err)
	}
	if err := a.commit(camera); err != nil {
		return Scene{}, err
	}

	framebuffer, err := a.eng.NewFrameBuffer(cfg.Size, cfg.Size, FormatSRGBA, ChannelColor)
	if err != nil {
		return Scene{}, foreignErr("NewFrameBuffer", err)
	}
	if _, err := a.track(framebuffer); err != nil {
		return Scene{}, err
	}
	if err := a.commit(framebuffer); err != nil {
		return Scene{}, err
	}

	return Scene{
		World:       world,
		Camera:      camera,
		Renderer:    renderer,
		FrameBuffer: framebuffer,
		Width:       cfg.Size,
		Height:      cfg.Size,
	}, nil
}
