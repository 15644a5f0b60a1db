package langserver

import (
	"fmt"

	"github.com/ewal-lang/ewal/manifest"
)

// workerRequest is a unit of work to run on the manifest goroutine.
type workerRequest struct {
	fn   func(*manifest.Manifest) interface{}
	done chan workerResult
}

type workerResult struct {
	value interface{}
	err   error
}

// AssemblerWorker serializes access to the project's physics.toml manifest
// behind a single goroutine. ReloadManifest can replace the manifest while
// document analysis is concurrently reading the element table it last
// loaded; routing both through one goroutine avoids that race without a
// mutex.
type AssemblerWorker struct {
	manifest *manifest.Manifest // nil until a physics.toml is found
	requests chan workerRequest
	quit     chan struct{}
}

// loadManifestOrNil loads the nearest physics.toml above dir, or returns a
// nil manifest (not an error) if the workspace has none.
func loadManifestOrNil(dir string) (*manifest.Manifest, error) {
	if dir == "" {
		return nil, nil
	}
	return manifest.FindAndLoad(dir)
}

// NewAssemblerWorker starts the worker goroutine, optionally seeded with an
// already-loaded manifest (nil if the workspace has none yet).
func NewAssemblerWorker(m *manifest.Manifest) *AssemblerWorker {
	w := &AssemblerWorker{
		manifest: m,
		requests: make(chan workerRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *AssemblerWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

func (w *AssemblerWorker) execute(fn func(*manifest.Manifest) interface{}) workerResult {
	var result workerResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.manifest)
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes.
func (w *AssemblerWorker) Do(fn func(*manifest.Manifest) interface{}) (interface{}, error) {
	req := workerRequest{fn: fn, done: make(chan workerResult, 1)}
	w.requests <- req
	result := <-req.done
	return result.value, result.err
}

// ReloadManifest replaces the manifest the worker serves, loading it from
// dir on the worker goroutine so no reader ever observes a half-updated
// manifest.
func (w *AssemblerWorker) ReloadManifest(dir string) error {
	_, err := w.Do(func(_ *manifest.Manifest) interface{} {
		m, loadErr := manifest.FindAndLoad(dir)
		if loadErr != nil {
			return loadErr
		}
		w.manifest = m
		return nil
	})
	return err
}

// Stop shuts down the worker goroutine.
func (w *AssemblerWorker) Stop() {
	close(w.quit)
}

// TypeResolverFor returns a type-name resolver to use while resolving a
// document, given the element name that document is assumed to define (by
// convention, its filename without extension). With no manifest loaded,
// every %Name reference resolves permissively to type 0 so a lone source
// file opened without a project still gets useful diagnostics for
// everything except element-table lookups.
func (w *AssemblerWorker) TypeResolverFor(elementName string) func(name string) (uint16, bool) {
	v, err := w.Do(func(m *manifest.Manifest) interface{} {
		if m == nil {
			return nil
		}
		var fn func(name string) (uint16, bool) = m.TypeResolver()
		return fn
	})
	if fn, ok := v.(func(name string) (uint16, bool)); err == nil && ok {
		return fn
	}
	return func(string) (uint16, bool) { return 0, true }
}

// SelfTypeNumber resolves the %Self type number for elementName, 0 if the
// manifest doesn't know about it or none is loaded.
func (w *AssemblerWorker) SelfTypeNumber(elementName string) uint16 {
	v, _ := w.Do(func(m *manifest.Manifest) interface{} {
		if m == nil {
			return uint16(0)
		}
		n, _ := m.SelfTypeNumber(elementName)
		return n
	})
	n, _ := v.(uint16)
	return n
}
