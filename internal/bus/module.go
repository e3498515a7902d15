package bus

// Module is one independent pipeline worker driven by bus events.
//
// Lifecycle: Initialize is called once for every module in registration
// order before anything starts; any error aborts startup. Start begins the
// module's own goroutines. Stop must be idempotent and return promptly;
// in-flight work should finish within a few seconds or be abandoned.
// Cleanup releases resources after the last Stop.
//
// HandleEvent is invoked by the controller for every published event. The
// controller serialises deliveries to a single module, so implementations
// never see two HandleEvent calls overlap, but HandleEvent must not block:
// long work is offloaded to the module's own goroutines.
type Module interface {
	Name() string
	Initialize() error
	Start() error
	Stop()
	Cleanup()
	HandleEvent(Event)
	IsRunning() bool
}
