package engine

// Game is the interactive side consuming imported resources. Every hook is
// optional and runs on the goroutine driving the engine.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnShutdown   Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error
type Shutdown func() error
