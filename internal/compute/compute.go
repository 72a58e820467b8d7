// Package compute describes where and how widely batch work runs. A Context is
// passed explicitly to every component that does parallel or device work.
package compute

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Device names. Auto is resolved to CPU or CUDA by the component that owns
// the device, see Resolve.
const (
	Auto = "auto"
	CPU  = "cpu"
	CUDA = "cuda"
)

// Context selects the device and bounds worker fan-out.
type Context struct {
	Device  string
	Workers int
}

// Default returns a CPU context using every available core.
func Default() Context {
	return Context{Device: CPU, Workers: runtime.NumCPU()}
}

// Parse reads a device name. "" and "auto" leave the choice to Resolve.
// workers <= 0 means one per CPU.
func Parse(device string, workers int) (Context, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	switch d := strings.ToLower(device); d {
	case "", Auto:
		return Context{Device: Auto, Workers: workers}, nil
	case CPU, CUDA:
		return Context{Device: d, Workers: workers}, nil
	}
	return Context{}, fmt.Errorf("compute: unknown device %q", device)
}

// Resolve settles Auto using enableCUDA, which attaches the CUDA backend and
// reports whether it is available. Auto becomes CUDA when enableCUDA
// succeeds and CPU otherwise. An explicit CUDA request fails if enableCUDA
// does. CPU contexts never call it.
func (c Context) Resolve(enableCUDA func() error) (Context, error) {
	switch c.Device {
	case Auto:
		if err := enableCUDA(); err == nil {
			c.Device = CUDA
		} else {
			c.Device = CPU
		}
	case CUDA:
		if err := enableCUDA(); err != nil {
			return c, fmt.Errorf("compute: cuda unavailable: %w", err)
		}
	default:
		c.Device = CPU
	}
	return c, nil
}

// String implements fmt.Stringer.
func (c Context) String() string {
	return fmt.Sprintf("%s/%d", c.Device, c.workers())
}

func (c Context) workers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// ForEach calls fn for every index in [0, n) using at most Workers goroutines
// and returns once all calls have finished. The first error cancels the
// context passed to the remaining calls and is returned.
func (c Context) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// Chunks splits [0, n) into contiguous ranges of at most size elements.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}
