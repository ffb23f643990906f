package metadata

/** @brief Work handed to the backend queue. */
type SubmitInfo struct {
	CommandBuffers []RawCommandBuffer
	/** @brief Semaphores the GPU waits on before executing. */
	WaitSemaphores []RawSemaphore
	/** @brief Semaphores signaled once the command buffers complete. */
	SignalSemaphores []RawSemaphore
	/** @brief Fence signaled once the command buffers complete. May be zero. */
	Fence RawFence
}

/** @brief Timeout value for fence waits that never expire. */
const WaitForever = ^uint64(0)
