package softengine

import (
	"fmt"
	"unsafe"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/raystack"
)

// triangle is one shadable primitive after scene flattening.
type triangle struct {
	v0, v1, v2    mgl32.Vec3
	uv0, uv1, uv2 mgl32.Vec2
	hasUV         bool
	mat           *shadedMaterial
}

type shadedMaterial struct {
	kd  mgl32.Vec3
	tex *texture2D
}

type texture2D struct {
	texels []mgl32.Vec3
	w, h   int
}

// sample returns the nearest texel for uv in [0,1)².
func (t *texture2D) sample(uv mgl32.Vec2) mgl32.Vec3 {
	x := clampi(int(uv[0]*float32(t.w)), 0, t.w-1)
	y := clampi(int(uv[1]*float32(t.h)), 0, t.h-1)
	return t.texels[x+y*t.w]
}

func clampi(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

// RenderFrameBlocking rasterizes the world into the framebuffer with a
// deterministic orthographic raycast: one ray per pixel, nearest hit wins,
// flat shading of the diffuse color under the summed ambient light. Every
// covered pixel is written fully opaque. Returns zero variance.
func (e *Engine) RenderFrameBlocking(fb, renderer, camera, world raystack.Handle) (float32, error) {
	e.calls["RenderFrameBlocking"]++

	fbo, err := e.lookup(fb)
	if err != nil {
		return 0, err
	}
	if fbo.pixels == nil {
		return 0, fmt.Errorf("render target %d is not a framebuffer", fb)
	}
	ro, err := e.lookup(renderer)
	if err != nil {
		return 0, err
	}
	co, err := e.lookup(camera)
	if err != nil {
		return 0, err
	}
	wo, err := e.lookup(world)
	if err != nil {
		return 0, err
	}
	for _, o := range []*object{ro, co, wo} {
		if !o.committed {
			return 0, fmt.Errorf("render with uncommitted %s object", o.kind)
		}
	}

	background, ok := ro.vec4s["backgroundColor"]
	if !ok {
		background = mgl32.Vec4{0, 0, 0, 0}
	}
	ambient, err := e.ambientLight(wo)
	if err != nil {
		return 0, err
	}
	tris, err := e.flattenWorld(wo)
	if err != nil {
		return 0, err
	}
	e.log.Debugf("render: %d triangles, ambient %v", len(tris), ambient)

	pos := co.vec3s["position"]
	dir := co.vec3s["direction"].Normalize()
	up := co.vec3s["up"]
	right := dir.Cross(up).Normalize()
	upv := right.Cross(dir).Normalize()
	hWorld := co.floats["height"]
	wWorld := hWorld * float32(fbo.width) / float32(fbo.height)

	for py := 0; py < fbo.height; py++ {
		v := (float32(py)+0.5)/float32(fbo.height) - 0.5
		for px := 0; px < fbo.width; px++ {
			u := (float32(px)+0.5)/float32(fbo.width) - 0.5
			origin := pos.Add(right.Mul(u * wWorld)).Add(upv.Mul(v * hWorld))

			color := background
			nearest := float32(math32.MaxFloat32)
			for i := range tris {
				t, bu, bv, hit := intersect(&tris[i], origin, dir)
				if !hit || t >= nearest {
					continue
				}
				nearest = t
				color = shade(&tris[i], bu, bv, ambient)
			}

			off := (px + py*fbo.width) * 4
			writePixel(fbo.pixels[off:off+4], color, fbo.format)
		}
	}
	return 0, nil
}

// intersect runs Möller-Trumbore against one triangle and returns the ray
// parameter and barycentric coordinates of the hit.
func intersect(tr *triangle, origin, dir mgl32.Vec3) (t, u, v float32, hit bool) {
	const eps = 1e-7
	e1 := tr.v1.Sub(tr.v0)
	e2 := tr.v2.Sub(tr.v0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -eps && det < eps {
		return 0, 0, 0, false
	}
	inv := 1 / det
	s := origin.Sub(tr.v0)
	u = s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := s.Cross(e1)
	v = dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	t = e2.Dot(q) * inv
	if t < eps {
		return 0, 0, 0, false
	}
	return t, u, v, true
}

func shade(tr *triangle, bu, bv float32, ambient mgl32.Vec3) mgl32.Vec4 {
	kd := tr.mat.kd
	if tr.mat.tex != nil && tr.hasUV {
		uv := tr.uv0.Mul(1 - bu - bv).Add(tr.uv1.Mul(bu)).Add(tr.uv2.Mul(bv))
		kd = tr.mat.tex.sample(uv)
	}
	return mgl32.Vec4{
		clamp01(kd[0] * ambient[0]),
		clamp01(kd[1] * ambient[1]),
		clamp01(kd[2] * ambient[2]),
		1,
	}
}

func clamp01(x float32) float32 {
	return math32.Min(math32.Max(x, 0), 1)
}

func writePixel(dst []byte, color mgl32.Vec4, format raystack.FrameFormat) {
	for c := 0; c < 3; c++ {
		v := color[c]
		if format == raystack.FormatSRGBA {
			v = linearToSRGB(v)
		}
		dst[c] = byte(clamp01(v)*255 + 0.5)
	}
	dst[3] = byte(clamp01(color[3])*255 + 0.5)
}

func linearToSRGB(c float32) float32 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return 1.055*math32.Pow(c, 1/2.4) - 0.055
}

// ambientLight sums the world's ambient lights into one scale factor.
func (e *Engine) ambientLight(wo *object) (mgl32.Vec3, error) {
	lh, ok := wo.objects["light"]
	if !ok {
		return mgl32.Vec3{1, 1, 1}, nil
	}
	lights, err := e.bufferHandles(lh)
	if err != nil {
		return mgl32.Vec3{}, fmt.Errorf("world light list: %w", err)
	}
	var total mgl32.Vec3
	for _, h := range lights {
		lo, err := e.lookup(h)
		if err != nil {
			return mgl32.Vec3{}, fmt.Errorf("world light: %w", err)
		}
		if lo.subtype != "ambient" {
			continue
		}
		color, ok := lo.vec3s["color"]
		if !ok {
			color = mgl32.Vec3{1, 1, 1}
		}
		intensity, ok := lo.floats["intensity"]
		if !ok {
			intensity = 1
		}
		total = total.Add(color.Mul(intensity))
	}
	return total, nil
}

// flattenWorld resolves the instance chain into a flat triangle list.
func (e *Engine) flattenWorld(wo *object) ([]triangle, error) {
	ih, ok := wo.objects["instance"]
	if !ok {
		return nil, nil
	}
	instances, err := e.bufferHandles(ih)
	if err != nil {
		return nil, fmt.Errorf("world instance list: %w", err)
	}

	var tris []triangle
	for _, inst := range instances {
		io, err := e.lookup(inst)
		if err != nil {
			return nil, fmt.Errorf("instance: %w", err)
		}
		gh, ok := io.objects["group"]
		if !ok {
			return nil, fmt.Errorf("instance %d has no group", inst)
		}
		grp, err := e.lookup(gh)
		if err != nil {
			return nil, err
		}
		mh, ok := grp.objects["geometry"]
		if !ok {
			continue
		}
		models, err := e.bufferHandles(mh)
		if err != nil {
			return nil, fmt.Errorf("group geometry list: %w", err)
		}
		for _, model := range models {
			mo, err := e.lookup(model)
			if err != nil {
				return nil, fmt.Errorf("geometric model: %w", err)
			}
			mtris, err := e.modelTriangles(mo)
			if err != nil {
				return nil, err
			}
			tris = append(tris, mtris...)
		}
	}
	return tris, nil
}

func (e *Engine) modelTriangles(mo *object) ([]triangle, error) {
	geomH, ok := mo.objects["geometry"]
	if !ok {
		return nil, fmt.Errorf("geometric model has no geometry")
	}
	geo, err := e.lookup(geomH)
	if err != nil {
		return nil, err
	}
	if geo.subtype != "mesh" {
		return nil, fmt.Errorf("unsupported geometry subtype %q", geo.subtype)
	}

	mat, err := e.resolveMaterial(mo)
	if err != nil {
		return nil, err
	}

	positions, err := e.bufferVec3(geo.objects["vertex.position"])
	if err != nil {
		return nil, fmt.Errorf("vertex.position: %w", err)
	}
	var texcoords []mgl32.Vec2
	if uvH, ok := geo.objects["vertex.texcoord"]; ok {
		texcoords, err = e.bufferVec2(uvH)
		if err != nil {
			return nil, fmt.Errorf("vertex.texcoord: %w", err)
		}
	}
	corners, err := e.bufferIndices(geo.objects["index"])
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	var tris []triangle
	emit := func(a, b, c uint32) error {
		n := uint32(len(positions))
		if a >= n || b >= n || c >= n {
			return fmt.Errorf("index (%d,%d,%d) out of range for %d vertices", a, b, c, n)
		}
		t := triangle{v0: positions[a], v1: positions[b], v2: positions[c], mat: mat}
		if texcoords != nil {
			t.uv0, t.uv1, t.uv2 = texcoords[a], texcoords[b], texcoords[c]
			t.hasUV = true
		}
		tris = append(tris, t)
		return nil
	}
	for _, idx := range corners {
		if err := emit(idx[0], idx[1], idx[2]); err != nil {
			return nil, err
		}
		if idx[3] != quadNone {
			if err := emit(idx[0], idx[2], idx[3]); err != nil {
				return nil, err
			}
		}
	}
	return tris, nil
}

func (e *Engine) resolveMaterial(mo *object) (*shadedMaterial, error) {
	mat := &shadedMaterial{kd: mgl32.Vec3{0.8, 0.8, 0.8}}
	mh, ok := mo.objects["material"]
	if !ok {
		return mat, nil
	}
	m, err := e.lookup(mh)
	if err != nil {
		return nil, err
	}
	if kd, ok := m.vec3s["kd"]; ok {
		mat.kd = kd
	}
	th, ok := m.objects["map_kd"]
	if !ok {
		return mat, nil
	}
	tex, err := e.lookup(th)
	if err != nil {
		return nil, err
	}
	if format := raystack.TextureFormat(tex.uints["format"]); format != raystack.TextureRGB32F {
		return nil, fmt.Errorf("unsupported texture format %d", format)
	}
	dh, ok := tex.objects["data"]
	if !ok {
		return nil, fmt.Errorf("texture has no data buffer")
	}
	texels, shape, dtype, err := e.ReadBuffer(dh)
	if err != nil {
		return nil, err
	}
	if dtype != raystack.TypeVec3f {
		return nil, fmt.Errorf("texture data is %s, want %s", dtype, raystack.TypeVec3f)
	}
	mat.tex = &texture2D{
		texels: bytesAs[mgl32.Vec3](texels),
		w:      shape[0],
		h:      shape[1],
	}
	return mat, nil
}

// quadNone marks a triangle-only index entry in the normalized corner list.
const quadNone = ^uint32(0)

// bufferIndices reads an index buffer of 3- or 4-wide corner tuples into a
// uniform 4-wide list, quadNone filling the absent corner.
func (e *Engine) bufferIndices(h raystack.Handle) ([][4]uint32, error) {
	data, shape, dtype, err := e.ReadBuffer(h)
	if err != nil {
		return nil, err
	}
	n := shape[0] * shape[1] * shape[2]
	out := make([][4]uint32, n)
	switch dtype {
	case raystack.TypeVec3ui:
		raw := bytesAs[[3]uint32](data)
		for i, tri := range raw {
			out[i] = [4]uint32{tri[0], tri[1], tri[2], quadNone}
		}
	case raystack.TypeVec4ui:
		raw := bytesAs[[4]uint32](data)
		copy(out, raw)
	default:
		return nil, fmt.Errorf("index buffer is %s, want vec3ui or vec4ui", dtype)
	}
	return out, nil
}

func (e *Engine) bufferHandles(h raystack.Handle) ([]raystack.Handle, error) {
	data, _, dtype, err := e.ReadBuffer(h)
	if err != nil {
		return nil, err
	}
	if !dtype.IsObject() {
		return nil, fmt.Errorf("buffer holds %s, not object references", dtype)
	}
	raw := bytesAs[uint64](data)
	out := make([]raystack.Handle, len(raw))
	for i, v := range raw {
		out[i] = raystack.Handle(v)
	}
	return out, nil
}

func (e *Engine) bufferVec3(h raystack.Handle) ([]mgl32.Vec3, error) {
	data, _, dtype, err := e.ReadBuffer(h)
	if err != nil {
		return nil, err
	}
	if dtype != raystack.TypeVec3f {
		return nil, fmt.Errorf("buffer holds %s, want %s", dtype, raystack.TypeVec3f)
	}
	return bytesAs[mgl32.Vec3](data), nil
}

func (e *Engine) bufferVec2(h raystack.Handle) ([]mgl32.Vec2, error) {
	data, _, dtype, err := e.ReadBuffer(h)
	if err != nil {
		return nil, err
	}
	if dtype != raystack.TypeVec2f {
		return nil, fmt.Errorf("buffer holds %s, want %s", dtype, raystack.TypeVec2f)
	}
	return bytesAs[mgl32.Vec2](data), nil
}

// bytesAs reinterprets a contiguous byte snapshot as a slice of T.
func bytesAs[T any](data []byte) []T {
	var t T
	esz := int(unsafe.Sizeof(t))
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/esz)
}
