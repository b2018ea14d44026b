package libqjs

import "sync"

// platformIdentifier and platformVersion are the fixed strings the
// original implementation reports for js_platform_identifier and
// js_platform_version; callers that branch on backend identity rely on
// these being stable.
const (
	platformIdentifier = "quickjs"
	platformVersion    = "2024.01"
)

// PlatformOptions configures a Platform at creation. The zero value means
// every default: garbage collection is not exposed to script.
type PlatformOptions struct {
	// ExposeGarbageCollection makes a global gc() function available to
	// evaluated scripts, matching the original's expose_garbage_collection
	// option.
	ExposeGarbageCollection bool
}

// Platform is the process-wide holder of options shared by every
// Environment created against it. Multiple environments may share one
// Platform; a Platform must outlive every Environment it created.
type Platform struct {
	mu       sync.Mutex
	options  PlatformOptions
	envCount int
	closed   bool
}

// NewPlatform creates a platform. Creation is cheap: an options copy and
// bookkeeping, no engine resources are touched until the first
// Environment is created against it.
func NewPlatform(opts PlatformOptions) *Platform {
	return &Platform{options: opts}
}

// Identifier returns the fixed backend identifier, "quickjs".
func (p *Platform) Identifier() string { return platformIdentifier }

// Version returns the fixed backend version string.
func (p *Platform) Version() string { return platformVersion }

// Options returns the options the platform was created with.
func (p *Platform) Options() PlatformOptions { return p.options }

func (p *Platform) trackEnv(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envCount += delta
}

// Destroy releases the platform. It is an error (a programming error,
// not a runtime condition) to destroy a platform while any of its
// environments are still alive, mirroring the original's lifetime
// contract ("destroyed only after all its environments are destroyed").
func (p *Platform) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.envCount != 0 {
		panic("libqjs: destroying platform with live environments")
	}
	p.closed = true
}
