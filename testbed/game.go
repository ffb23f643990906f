package testbed

import (
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/soft"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima-gpu/engine/systems"
)

// Churn sizes the work done every frame.
type Churn struct {
	BuffersPerFrame int
	// BufferLifetime is the number of frames a buffer lives.
	BufferLifetime int
	ImageEvery     int
	ImageLifetime  int
	DrawsPerFrame  int
	// DrawWorkers records draws from that many goroutines.
	DrawWorkers  int
	StagingBytes int
	Seed         uint64
}

func DefaultChurn() Churn {
	return Churn{
		BuffersPerFrame: 32,
		BufferLifetime:  3,
		ImageEvery:      4,
		ImageLifetime:   8,
		DrawsPerFrame:   64,
		DrawWorkers:     4,
		StagingBytes:    4096,
		Seed:            1,
	}
}

type TestGame struct {
	*engine.Workload
}

type vertex struct {
	Position [3]float32
	Color    uint32
}

// drawUniforms mirrors a per draw uniform block: a model matrix and a tint.
type drawUniforms struct {
	Model [16]float32
	Tint  [4]float32
}

type gameState struct {
	churn Churn
	rng   *rand.Rand

	buffers [][]renderer.BufferHandle
	images  [][]renderer.ImageHandle
	sets    []metadata.RawDescriptorSet

	layout        metadata.RawDescriptorSetLayout
	destroyLayout func()
	record        func(cb metadata.RawCommandBuffer, payload []byte) error
	jobs          *systems.JobSystem

	stats Stats
}

// Stats counts the work done by the testbed.
type Stats struct {
	Frames         int
	BuffersCreated int
	ImagesCreated  int
	ViewsCreated   int
	Uniforms       int
	DescriptorSets int
	TempBytes      uint64
	StagingBytes   uint64
}

func NewTestGame(churn Churn) *TestGame {
	state := &gameState{
		churn:   churn,
		rng:     rand.New(rand.NewPCG(churn.Seed, churn.Seed^0x9e3779b97f4a7c15)),
		buffers: make([][]renderer.BufferHandle, max(churn.BufferLifetime, 1)),
		images:  make([][]renderer.ImageHandle, max(churn.ImageLifetime, 1)),
	}
	tg := &TestGame{
		Workload: &engine.Workload{
			Name:  "testbed",
			State: state,
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// Stats is a snapshot of the counters. Only valid between frames.
func (g *TestGame) Stats() Stats {
	return g.state().stats
}

func (g *TestGame) Initialize(device *renderer.Device, backend renderer.RendererBackend) error {
	core.LogInfo("initializing testbed on device %s", device.ID())
	s := g.state()
	if s.churn.DrawWorkers > 1 {
		jobs, err := systems.NewJobSystem(s.churn.DrawWorkers, s.churn.DrawWorkers)
		if err != nil {
			return err
		}
		s.jobs = jobs
	}
	switch b := backend.(type) {
	case *soft.Backend:
		s.layout = b.DescriptorAllocator().CreateLayout()
		s.record = b.Record
	case *vulkan.Backend:
		layout, err := b.DescriptorAllocator().CreateLayout([]vk.DescriptorSetLayoutBinding{{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllGraphics),
		}})
		if err != nil {
			return err
		}
		s.layout = layout
		s.destroyLayout = func() { b.DescriptorAllocator().DestroyLayout(layout) }
		s.record = func(cb metadata.RawCommandBuffer, _ []byte) error {
			if _, err := b.Begin(cb); err != nil {
				return err
			}
			return b.End(cb)
		}
	default:
		core.LogWarn("backend %s has no descriptor layouts, skipping descriptor churn", backend.Name())
	}
	return nil
}

func (g *TestGame) Update(t core.GameTime) error {
	if t.FrameNumber > 0 && t.FrameNumber%600 == 0 {
		core.LogDebug("testbed frame %s", t)
	}
	return nil
}

func (g *TestGame) Render(device *renderer.Device, frame *renderer.FrameLease, t core.GameTime) error {
	s := g.state()
	slot := s.stats.Frames

	if err := s.churnBuffers(device, slot); err != nil {
		return err
	}
	if err := s.churnImages(device, slot); err != nil {
		return err
	}
	if err := s.churnDescriptors(device); err != nil {
		return err
	}
	if err := s.draw(device, frame, t); err != nil {
		return err
	}
	if err := s.upload(device); err != nil {
		return err
	}
	if s.record != nil {
		payload := make([]byte, 16*s.churn.DrawsPerFrame)
		if err := s.record(frame.MainCommandBuffer(), payload); err != nil {
			return errors.Wrap(err, "failed to record the main command buffer")
		}
	}
	if err := device.Submit(frame, renderer.CommandBufferMain, nil, nil); err != nil {
		return err
	}

	s.stats.Frames++
	if s.stats.Frames%600 == 0 {
		core.LogInfo("testbed: %d buffers %d images live, %+v", device.Buffers(), device.Images(), s.stats)
	}
	return nil
}

// churnBuffers destroys the buffers created BufferLifetime frames ago and
// creates a new generation in their slot.
func (s *gameState) churnBuffers(device *renderer.Device, frame int) error {
	slot := frame % len(s.buffers)
	for _, h := range s.buffers[slot] {
		device.DestroyBuffer(h)
	}
	s.buffers[slot] = s.buffers[slot][:0]

	for i := 0; i < s.churn.BuffersPerFrame; i++ {
		size := uint64(256 + s.rng.IntN(64<<10))
		var desc metadata.BufferCreateDesc
		switch s.rng.IntN(3) {
		case 0:
			desc = metadata.GPUBuffer(size, metadata.BufferUsageVertexBuffer|metadata.BufferUsageTransferDst)
		case 1:
			desc = metadata.UploadBuffer(size, metadata.BufferUsageTransferSrc)
		default:
			desc = metadata.SharedBuffer(size, metadata.BufferUsageStorageBuffer)
		}
		h, err := device.CreateBuffer(desc)
		if err != nil {
			return err
		}
		if desc.MemoryLocation.HostVisible() {
			if err := device.WriteBuffer(h, 0, make([]byte, min(size, 64))); err != nil {
				return err
			}
		}
		s.buffers[slot] = append(s.buffers[slot], h)
		s.stats.BuffersCreated++
	}
	return nil
}

func (s *gameState) churnImages(device *renderer.Device, frame int) error {
	if s.churn.ImageEvery <= 0 || frame%s.churn.ImageEvery != 0 {
		return nil
	}
	slot := (frame / s.churn.ImageEvery) % len(s.images)
	for _, h := range s.images[slot] {
		device.DestroyImage(h)
	}
	s.images[slot] = s.images[slot][:0]

	extent := uint32(16 << s.rng.IntN(4))
	desc := metadata.TextureImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{extent, extent}).WithMipLevels(3)
	if s.rng.IntN(2) == 0 {
		desc = metadata.CubemapImage(metadata.FormatR8G8B8A8Unorm, [2]uint32{extent, extent})
	}
	h, err := device.CreateImage(desc)
	if err != nil {
		return err
	}
	s.images[slot] = append(s.images[slot], h)
	s.stats.ImagesCreated++

	for _, view := range []metadata.ImageViewDesc{{}, {BaseMipLevel: 0, LevelCount: 1}} {
		if _, err := device.ImageView(h, view); err != nil {
			return err
		}
		s.stats.ViewsCreated++
	}
	return nil
}

func (s *gameState) churnDescriptors(device *renderer.Device) error {
	if s.layout == 0 {
		return nil
	}
	device.DropDescriptorSets(s.sets...)
	sets, err := device.AllocateDescriptorSets(s.layout, 4)
	if err != nil {
		return err
	}
	s.sets = sets
	s.stats.DescriptorSets += len(sets)
	return nil
}

// draw pushes the per draw data: uniforms released at the end of the frame
// and a small vertex stream in the temp region. With a job system the draws
// are split between the workers.
func (s *gameState) draw(device *renderer.Device, frame *renderer.FrameLease, t core.GameTime) error {
	if s.jobs == nil {
		if err := drawRange(device, frame, t, 0, s.churn.DrawsPerFrame); err != nil {
			return err
		}
	} else {
		workers := s.jobs.Workers()
		per := (s.churn.DrawsPerFrame + workers - 1) / workers
		fns := make([]func() error, 0, workers)
		for from := 0; from < s.churn.DrawsPerFrame; from += per {
			to := min(from+per, s.churn.DrawsPerFrame)
			fns = append(fns, func() error { return drawRange(device, frame, t, from, to) })
		}
		if err := s.jobs.RunAll(fns...); err != nil {
			return err
		}
	}
	s.stats.Uniforms += s.churn.DrawsPerFrame
	s.stats.TempBytes += uint64(frame.TempUsed())
	return nil
}

func drawRange(device *renderer.Device, frame *renderer.FrameLease, t core.GameTime, from, to int) error {
	vertices := make([]vertex, 3)
	for i := from; i < to; i++ {
		u := drawUniforms{Tint: [4]float32{1, 1, 1, 1}}
		u.Model[0], u.Model[5], u.Model[10], u.Model[15] = 1, 1, 1, 1
		u.Model[12] = float32(i) * t.DeltaTime
		offset, err := renderer.PushUniform(device, &u)
		if err != nil {
			return err
		}
		device.FreeUniform(offset)

		for j := range vertices {
			vertices[j] = vertex{Position: [3]float32{float32(i), float32(j), 0}, Color: 0xffffffff}
		}
		if _, err := renderer.PushTempSlice(frame, vertices); err != nil {
			return err
		}
	}
	return nil
}

func (s *gameState) upload(device *renderer.Device) error {
	if s.churn.StagingBytes <= 0 {
		return nil
	}
	data := make([]byte, s.churn.StagingBytes)
	for i := range data {
		data[i] = byte(i)
	}
	if _, err := device.PushStaging(data); err != nil {
		return err
	}
	s.stats.StagingBytes += uint64(len(data))
	return nil
}

// Shutdown destroys everything still alive. The device releases the objects
// itself, this keeps the drop lists exercised on teardown.
func (g *TestGame) Shutdown(device *renderer.Device) error {
	s := g.state()
	for _, generation := range s.buffers {
		for _, h := range generation {
			device.DestroyBuffer(h)
		}
	}
	for _, generation := range s.images {
		for _, h := range generation {
			device.DestroyImage(h)
		}
	}
	device.DropDescriptorSets(s.sets...)
	if s.destroyLayout != nil {
		s.destroyLayout()
	}
	if s.jobs != nil {
		s.jobs.Shutdown()
	}
	core.LogInfo("testbed finished: %+v", s.stats)
	return nil
}
