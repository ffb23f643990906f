package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

type Engine struct {
	mu           sync.Mutex
	currentStage Stage
	workload     *Workload
	config       ApplicationConfig

	device          *renderer.Device
	shutdownBackend func() error

	clock  *core.Clock
	filter *core.TimeFilter

	isRunning  atomic.Bool
	frameLimit atomic.Uint64
	targetFPS  atomic.Uint32
	frames     atomic.Uint64
}

func New(w *Workload, cfg ApplicationConfig) (*Engine, error) {
	if w == nil || w.FnRender == nil {
		return nil, errors.New("workload without render function")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		workload:     w,
		config:       cfg,
		clock:        core.NewClock(),
		filter:       core.NewTimeFilter(),
	}
	e.frameLimit.Store(cfg.FrameLimit)
	e.targetFPS.Store(cfg.TargetFPS)
	return e, nil
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStage
}

func (e *Engine) setStage(stage Stage) {
	e.mu.Lock()
	e.currentStage = stage
	e.mu.Unlock()
}

// Device is nil before Initialize and after Shutdown.
func (e *Engine) Device() *renderer.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// Frames is the number of frames completed by Run.
func (e *Engine) Frames() uint64 {
	return e.frames.Load()
}

func (e *Engine) Initialize() error {
	if stage := e.Stage(); stage != EngineStageUninitialized {
		return errors.Newf("cannot initialize an engine in stage %s", stage)
	}
	core.SetLogLevel(e.config.LogLevel)

	device, backend, shutdown, err := openDevice(e.config)
	if err != nil {
		return errors.Wrap(err, "failed to create the device")
	}
	e.mu.Lock()
	e.device, e.shutdownBackend = device, shutdown
	e.mu.Unlock()

	if e.workload.FnInitialize != nil {
		if err := e.workload.FnInitialize(device, backend); err != nil {
			return errors.Wrapf(err, "failed to initialize %s", e.workload.Name)
		}
	}
	e.setStage(EngineStageInitialized)
	core.LogInfo("%s initialized", e.config.Name)
	return nil
}

// Run drives frames until ctx is done, Stop is called or the frame limit is
// reached. Workload errors stop the loop and are returned.
func (e *Engine) Run(ctx context.Context) error {
	if stage := e.Stage(); stage != EngineStageInitialized {
		return errors.Newf("cannot run an engine in stage %s", stage)
	}
	e.setStage(EngineStageRunning)
	e.isRunning.Store(true)
	defer e.isRunning.Store(false)

	e.clock.Start()
	lastTime := e.clock.Elapsed()

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		if limit := e.frameLimit.Load(); limit > 0 && e.frames.Load() >= limit {
			core.LogInfo("frame limit of %d reached", limit)
			break
		}

		frameStart := time.Now()
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		t := e.filter.Sample((currentTime - lastTime).Seconds())
		lastTime = currentTime

		if err := e.frame(t); err != nil {
			return err
		}
		e.frames.Add(1)

		if fps := e.targetFPS.Load(); fps > 0 {
			remaining := time.Second/time.Duration(fps) - time.Since(frameStart)
			if remaining > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(remaining):
				}
			}
		}
	}
	return nil
}

func (e *Engine) frame(t core.GameTime) error {
	w := e.workload
	if w.FnUpdate != nil {
		if err := w.FnUpdate(t); err != nil {
			return errors.Wrapf(err, "%s update failed at frame %d", w.Name, t.FrameNumber)
		}
	}

	lease, err := e.device.BeginFrame()
	if err != nil {
		return errors.Wrap(err, "failed to begin frame")
	}
	defer e.device.EndFrame(lease)

	if err := w.FnRender(e.device, lease, t); err != nil {
		return errors.Wrapf(err, "%s render failed at frame %d", w.Name, t.FrameNumber)
	}
	if lease.State() == renderer.FrameStateRecording {
		return e.device.Submit(lease, renderer.CommandBufferMain, nil, nil)
	}
	return nil
}

// Stop asks Run to return after the current frame.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Reload applies the settings of cfg that can change while running. The
// renderer and backend sections only take effect on restart.
func (e *Engine) Reload(cfg ApplicationConfig) {
	core.SetLogLevel(cfg.LogLevel)
	e.frameLimit.Store(cfg.FrameLimit)
	e.targetFPS.Store(cfg.TargetFPS)

	e.mu.Lock()
	restart := cfg.Backend != e.config.Backend || cfg.Renderer != e.config.Renderer ||
		cfg.Soft != e.config.Soft || cfg.Vulkan != e.config.Vulkan
	e.config.LogLevel, e.config.FrameLimit, e.config.TargetFPS = cfg.LogLevel, cfg.FrameLimit, cfg.TargetFPS
	e.mu.Unlock()

	core.LogInfo("config reloaded: log level %s, frame limit %d, target fps %d", cfg.LogLevel, cfg.FrameLimit, cfg.TargetFPS)
	if restart {
		core.LogWarn("device settings changed, restart to apply them")
	}
}

// Shutdown releases the workload and the device. Run must have returned.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.currentStage == EngineStageShuttingDown {
		e.mu.Unlock()
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	device, shutdown := e.device, e.shutdownBackend
	e.device, e.shutdownBackend = nil, nil
	e.mu.Unlock()

	if device == nil {
		return nil
	}
	var err error
	if e.workload.FnShutdown != nil {
		err = errors.Wrapf(e.workload.FnShutdown(device), "%s shutdown", e.workload.Name)
	}
	device.Destroy()
	if shutdownErr := shutdown(); shutdownErr != nil {
		err = errors.CombineErrors(err, errors.Wrap(shutdownErr, "backend shutdown"))
	}
	core.LogInfo("%s shut down after %d frames", e.config.Name, e.frames.Load())
	return err
}
