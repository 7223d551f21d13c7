// Package envs is the registry of built-in environments. Each environment
// ships its JavaScript bootstrap, any helper packages it installs through
// the driver's package loader, and a default experiment config. Built-ins
// self-register via init().
package envs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brazhou04/interactive-gym/internal/configs"
	"github.com/brazhou04/interactive-gym/internal/driver"
)

// Environment is a registered built-in.
type Environment struct {
	Name        string
	Description string
	// Bootstrap is the environment initialization source; it binds env.
	Bootstrap string
	// Packages maps helper package names to their sources, served through
	// a driver.MapLoader.
	Packages map[string]string
	// DefaultConfig builds a fresh experiment config for this environment.
	DefaultConfig func() *configs.Config
}

// Loader returns a package loader serving this environment's helpers.
func (e Environment) Loader() driver.PackageLoader {
	return driver.MapLoader(e.Packages)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Environment)
)

// Register adds an environment. Registering a duplicate name panics:
// built-ins register from init() and a collision is a programming error.
func Register(env Environment) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[env.Name]; exists {
		panic(fmt.Sprintf("envs: duplicate environment %q", env.Name))
	}
	registry[env.Name] = env
}

// Get retrieves an environment by name.
func Get(name string) (Environment, bool) {
	mu.RLock()
	defer mu.RUnlock()
	env, ok := registry[name]
	return env, ok
}

// List returns registered environment names, sorted.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve fills a config's environment section from the registry when it
// names a built-in instead of carrying bootstrap source. It returns the
// package loader to construct the driver with: a registry environment's own
// loader, or a directory loader over the config's packages_dir for inline
// bootstraps that install packages.
func Resolve(cfg *configs.Config) (driver.PackageLoader, error) {
	if cfg.Env.InitCode != "" {
		if cfg.Env.PackagesDir != "" {
			return driver.DirLoader{Dir: cfg.Env.PackagesDir}, nil
		}
		// An already-resolved registry config round-trips through its
		// environment's own loader.
		if env, ok := Get(cfg.Env.EnvName); ok {
			return env.Loader(), nil
		}
		if len(cfg.Env.Packages) > 0 {
			return nil, fmt.Errorf("envs: config lists packages %v but no packages_dir to load them from", cfg.Env.Packages)
		}
		return driver.MapLoader(nil), nil
	}
	env, ok := Get(cfg.Env.EnvName)
	if !ok {
		return nil, fmt.Errorf("envs: unknown environment %q (registered: %v)", cfg.Env.EnvName, List())
	}
	cfg.Env.InitCode = env.Bootstrap
	if len(cfg.Env.Packages) == 0 {
		for name := range env.Packages {
			cfg.Env.Packages = append(cfg.Env.Packages, name)
		}
		sort.Strings(cfg.Env.Packages)
	}
	return env.Loader(), nil
}
