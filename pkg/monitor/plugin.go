package monitor

import "context"

// Result is what a Plugin reports back each run, mirroring
// PluginResult.to_zookeeper's fields (health_delta, message, data).
type Result struct {
	HealthDelta int
	Message     string
	Data        string
}

// Plugin is one monitoring check, loaded once at startup and run every
// tick. Setup and Cleanup are optional lifecycle hooks; most plugins
// leave them as no-ops.
type Plugin interface {
	Name() string
	Setup(ctx context.Context) error
	Run(ctx context.Context) (Result, error)
	Cleanup(ctx context.Context) error
}

// BasePlugin gives a concrete Plugin a no-op Setup/Cleanup so it only
// needs to implement Name and Run, matching how most of the stock
// plugins behave.
type BasePlugin struct{}

func (BasePlugin) Setup(ctx context.Context) error   { return nil }
func (BasePlugin) Cleanup(ctx context.Context) error { return nil }
