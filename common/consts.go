package common

import "time"

const (
	// Defaults

	DefaultTimeout time.Duration = 30 * time.Second

	// DefaultSwapGraceWindow is how long a frame whose session
	// disconnected is held before being removed, waiting for a
	// replacement session to claim it. Cross-process navigations and
	// pre-rendered page activations reattach within this window. The
	// right value depends on browser and network latency, so it is
	// settable through TimeoutSettings.
	DefaultSwapGraceWindow time.Duration = 2 * time.Second
)

const (
	// utilityWorldName identifies the isolated world we create in every
	// frame. Realms announcing this name in executionContextCreated are
	// bound to the frame's utility world.
	utilityWorldName = "__puppeteer_utility_world__"

	evaluationScriptURL = "__puppeteer_evaluation_script__"
)
