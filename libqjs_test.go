package libqjs

import "testing"

// newTestEnv creates a Platform + Environment pair for a single test,
// registering cleanup to destroy the environment (and, once every
// environment against the platform is gone, the platform itself) when the
// test finishes. Mirrors the teacher's newTestEngine(t) helper shape.
func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	platform := NewPlatform(PlatformOptions{})
	env, err := NewEnvironment(platform, EnvOptions{})
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	t.Cleanup(func() {
		env.Destroy()
		platform.Destroy()
	})
	return env
}

// withScope opens a handle scope against env, runs fn, and closes the
// scope afterward.
func withScope(env *Environment, fn func(scope *HandleScope)) {
	scope := OpenHandleScope(env)
	defer scope.Close()
	fn(scope)
}
