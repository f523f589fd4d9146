// Package gpu implements a render backend that keeps materialized frames
// resident as GPU textures and blits them to an externally supplied surface.
package gpu

import (
	"image"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/seqview/seqview/render"
)

// blitWGSL draws one fullscreen triangle sampling the bound texture; the
// letterbox geometry is applied through the pass viewport.
const blitWGSL = `
struct VSOut {
    @builtin(position) pos: vec4<f32>,
    @location(0) uv: vec2<f32>,
};

@vertex
fn vs_main(@builtin(vertex_index) vi: u32) -> VSOut {
    var pos = array<vec2<f32>, 3>(
        vec2<f32>(-1.0, -1.0),
        vec2<f32>(3.0, -1.0),
        vec2<f32>(-1.0, 3.0),
    );
    var out: VSOut;
    out.pos = vec4<f32>(pos[vi], 0.0, 1.0);
    out.uv = vec2<f32>(pos[vi].x * 0.5 + 0.5, 0.5 - pos[vi].y * 0.5);
    return out;
}

@group(0) @binding(0) var frameSampler: sampler;
@group(0) @binding(1) var frameTexture: texture_2d<f32>;

@fragment
fn fs_main(in: VSOut) -> @location(0) vec4<f32> {
    return textureSample(frameTexture, frameSampler, in.uv);
}
`

// Target supplies the drawable surface. It is implemented by the external
// window layer; this package never creates windows or surfaces itself.
type Target interface {
	// AcquireView returns the texture view to draw the next frame into along
	// with a function that presents and releases it.
	AcquireView() (*wgpu.TextureView, func(), error)
	// Format is the color format of acquired views.
	Format() wgpu.TextureFormat
	// Size is the current surface size in pixels.
	Size() (int, int)
}

// Backend uploads frames into GPU textures and draws them scaled to fit the
// target. All methods are render-thread only; textures are created and
// destroyed nowhere else.
type Backend struct {
	device     *wgpu.Device
	queue      *wgpu.Queue
	target     Target
	sampler    *wgpu.Sampler
	bindLayout *wgpu.BindGroupLayout
	pipeline   *wgpu.RenderPipeline
	logger     golog.Logger
	closed     bool
}

type texture struct {
	tex  *wgpu.Texture
	view *wgpu.TextureView
	bind *wgpu.BindGroup
	size image.Point
}

func (t *texture) Bounds() image.Rectangle {
	return image.Rectangle{Max: t.size}
}

func (t *texture) Release() {
	if t.bind != nil {
		t.bind.Release()
		t.bind = nil
	}
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

// NewBackend builds the blit pipeline for the given device and target.
func NewBackend(device *wgpu.Device, target Target, logger golog.Logger) (*Backend, error) {
	shader, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "seqview-blit",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: blitWGSL},
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot compile blit shader")
	}
	defer shader.Release()

	bindLayout, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "seqview-blit-bind-layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create bind group layout")
	}

	pipelineLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "seqview-blit-pipeline-layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindLayout},
	})
	if err != nil {
		bindLayout.Release()
		return nil, errors.Wrap(err, "cannot create pipeline layout")
	}
	defer pipelineLayout.Release()

	pipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "seqview-blit-pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		Fragment: &wgpu.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    target.Format(),
				Blend:     &wgpu.BlendStateReplace,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		bindLayout.Release()
		return nil, errors.Wrap(err, "cannot create blit pipeline")
	}

	sampler, err := device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "seqview-blit-sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		pipeline.Release()
		bindLayout.Release()
		return nil, errors.Wrap(err, "cannot create sampler")
	}

	return &Backend{
		device:     device,
		queue:      device.GetQueue(),
		target:     target,
		sampler:    sampler,
		bindLayout: bindLayout,
		pipeline:   pipeline,
		logger:     logger,
	}, nil
}

// CreateTexture uploads one decoded frame into a new GPU texture.
func (b *Backend) CreateTexture(img *image.NRGBA) (render.Texture, error) {
	if b.closed {
		return nil, errors.New("render backend closed")
	}
	if img == nil {
		return nil, errors.New("cannot create texture from nil frame")
	}
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "seqview-frame",
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create frame texture")
	}

	pix := img.Pix
	if img.Stride != 4*w {
		// Tighten the rows so the upload layout is contiguous.
		pix = make([]byte, 4*w*h)
		for y := 0; y < h; y++ {
			copy(pix[y*4*w:(y+1)*4*w], img.Pix[y*img.Stride:y*img.Stride+4*w])
		}
	}
	if err := b.queue.WriteTexture(
		tex.AsImageCopy(),
		pix,
		&wgpu.TextureDataLayout{Offset: 0, BytesPerRow: uint32(4 * w), RowsPerImage: uint32(h)},
		&wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
	); err != nil {
		tex.Release()
		return nil, errors.Wrap(err, "cannot upload frame texture")
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, errors.Wrap(err, "cannot create frame texture view")
	}
	bind, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "seqview-frame-bind",
		Layout: b.bindLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Sampler: b.sampler},
			{Binding: 1, TextureView: view},
		},
	})
	if err != nil {
		view.Release()
		tex.Release()
		return nil, errors.Wrap(err, "cannot create frame bind group")
	}
	return &texture{tex: tex, view: view, bind: bind, size: image.Point{X: w, Y: h}}, nil
}

// Present draws the textures into the target, each scaled to fit its share of
// the surface (the whole surface for one texture, half per eye for stereo).
func (b *Backend) Present(texs []render.Texture) error {
	if b.closed {
		return errors.New("render backend closed")
	}
	view, done, err := b.target.AcquireView()
	if err != nil {
		return errors.Wrap(err, "cannot acquire surface view")
	}
	defer done()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return errors.Wrap(err, "cannot create command encoder")
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0.04, G: 0.04, B: 0.05, A: 1},
		}},
	})
	surfW, surfH := b.target.Size()
	cellW := surfW
	if len(texs) > 0 {
		cellW = surfW / len(texs)
	}
	for i, tex := range texs {
		gt, ok := tex.(*texture)
		if !ok {
			pass.End()
			pass.Release()
			return errors.Errorf("foreign texture type %T", tex)
		}
		cell := image.Rect(i*cellW, 0, (i+1)*cellW, surfH)
		dst := render.FitRect(gt.size, cell)
		if dst.Empty() {
			continue
		}
		pass.SetViewport(
			float32(dst.Min.X), float32(dst.Min.Y),
			float32(dst.Dx()), float32(dst.Dy()),
			0, 1,
		)
		pass.SetPipeline(b.pipeline)
		pass.SetBindGroup(0, gt.bind, nil)
		pass.Draw(3, 1, 0, 0)
	}
	pass.End()
	pass.Release()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return errors.Wrap(err, "cannot finish command encoder")
	}
	defer cmd.Release()
	b.queue.Submit(cmd)
	return nil
}

// Close releases the pipeline objects. Frame textures are owned by their
// slots and released by the viewer during teardown.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.sampler.Release()
	b.pipeline.Release()
	b.bindLayout.Release()
	return nil
}
