package engine

import (
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
)

// Workload is the user code driven by the engine. Only FnRender is
// required.
type Workload struct {
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnShutdown   Shutdown
}

// Initialize also receives the backend for the objects the Device does not
// manage, such as descriptor set layouts.
type Initialize func(device *renderer.Device, backend renderer.RendererBackend) error
type Update func(t core.GameTime) error

// Render records the frame. The engine submits the main command buffer
// afterwards unless the workload did.
type Render func(device *renderer.Device, frame *renderer.FrameLease, t core.GameTime) error
type Shutdown func(device *renderer.Device) error
