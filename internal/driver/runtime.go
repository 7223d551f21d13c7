package driver

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

// PackageLoader resolves named packages to JavaScript source. Packages are
// evaluated into the runtime before the environment bootstrap runs, so the
// bootstrap can use whatever globals they define.
type PackageLoader interface {
	Load(name string) (string, error)
}

// MapLoader serves package sources from memory. The zero value resolves
// nothing.
type MapLoader map[string]string

func (m MapLoader) Load(name string) (string, error) {
	src, ok := m[name]
	if !ok {
		return "", fmt.Errorf("package %q not found", name)
	}
	return src, nil
}

// DirLoader reads <name>.js files from a directory.
type DirLoader struct {
	Dir string
}

func (d DirLoader) Load(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("package name %q must not contain path separators", name)
	}
	raw, err := os.ReadFile(filepath.Join(d.Dir, name+".js"))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// newRuntime builds the sandboxed interpreter runtime: console wired to the
// host logger, a shared globals object for host-pushed values, and host
// escape hatches neutralized.
func newRuntime(logger *log.Logger) *goja.Runtime {
	rt := goja.New()

	console := rt.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		logger.Printf("[env] %s", strings.Join(parts, " "))
		return goja.Undefined()
	})
	rt.Set("console", console)

	// Host-pushed values land here; environment and on-step code read them.
	rt.Set("interactiveGymGlobals", rt.NewObject())

	// Block dangerous globals.
	rt.Set("require", goja.Undefined())
	rt.Set("fetch", goja.Undefined())
	rt.Set("XMLHttpRequest", goja.Undefined())
	rt.Set("eval", goja.Undefined())
	rt.Set("Function", goja.Undefined())

	return rt
}

// installPackages evaluates each named package into the runtime in order.
func installPackages(rt *goja.Runtime, loader PackageLoader, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if loader == nil {
		return fmt.Errorf("packages configured but no package loader provided")
	}
	for _, name := range names {
		src, err := loader.Load(name)
		if err != nil {
			return fmt.Errorf("install package %q: %w", name, err)
		}
		if _, err := rt.RunString(src); err != nil {
			return fmt.Errorf("install package %q: %w", name, err)
		}
	}
	return nil
}
