// Package backend implements §4.8/§6.2: loading backend plug-in images via
// Go's stdlib plugin package, managing per-name reference-counted images,
// and running instances through the open/add/del/reset/prepare/commit/
// rollback/collaborate state machine.
//
// Grounded on the original engine's backend.h, whose PulleyBack::Loader and
// PulleyBack::Instance C++ classes this package adapts per spec.md Design
// Notes §9: shared_ptr reference counting becomes an explicit arena keyed
// by (index, generation), since Go has no destructor to rely on to detect
// an image going out of scope safely.
package backend

import (
	stdplugin "plugin"
	"sync"

	pulleyerrors "github.com/arpa2/pulley/errors"
)

// ABI is the nine-entry-point contract a backend plug-in image must export
// (§6.2), adapted from backend.h's mixed C/C++ surface into one strongly
// typed Go interface (Design Notes §9).
type ABI interface {
	Open(args []string) (InstanceHandle, error)
	Close(h InstanceHandle) error
	Add(h InstanceHandle, driverLineHash uint32, values [][]byte) error
	Del(h InstanceHandle, driverLineHash uint32, values [][]byte) error
	Reset(h InstanceHandle) error
	Prepare(h InstanceHandle) error
	Commit(h InstanceHandle) error
	Rollback(h InstanceHandle) error
	Collaborate(h InstanceHandle, peers []string) error
}

// InstanceHandle identifies one open instance within a plug-in image; it is
// opaque to callers outside this package.
type InstanceHandle uint64

// symbolName is the exported symbol an image must provide: a value
// implementing ABI (§6.2: "a single exported PulleyBackend symbol").
const symbolName = "PulleyBackend"

// handle packs an arena slot index and a generation counter into the
// uint64 callers see, so a handle issued before an image was reloaded is
// detectably stale (Design Notes §9's index+generation scheme).
type handle struct {
	index      uint32
	generation uint32
}

func (h handle) pack() InstanceHandle {
	return InstanceHandle(uint64(h.generation)<<32 | uint64(h.index))
}

func unpack(h InstanceHandle) handle {
	return handle{index: uint32(h), generation: uint32(h >> 32)}
}

// image is one loaded plug-in: its ABI implementation and a reference count
// of open instances, so Unload can refuse to evict an image still in use.
type image struct {
	name       string
	abi        ABI
	generation uint32
	refCount   int
}

// Manager owns every loaded backend image, keyed by module name.
type Manager struct {
	mu     sync.Mutex
	images map[string]*image
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{images: make(map[string]*image)}
}

// Load opens a .so at path and registers it under name, replacing any
// previous image under that name at once (the new image gets a fresh
// generation, invalidating stale handles).
func (m *Manager) Load(name, path string) error {
	p, err := stdplugin.Open(path)
	if err != nil {
		return pulleyerrors.ErrBackendLoad.New(name, err.Error())
	}
	sym, err := p.Lookup(symbolName)
	if err != nil {
		return pulleyerrors.ErrBackendLoad.New(name, err.Error())
	}
	abi, ok := sym.(ABI)
	if !ok {
		// plugin symbols are untyped at load time; a common real-world shape
		// is a *ABI-shaped pointer rather than the interface value itself.
		if abiPtr, ok2 := sym.(*ABI); ok2 {
			abi = *abiPtr
		} else {
			return pulleyerrors.ErrBackendLoad.New(name, "exported symbol does not implement backend.ABI")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	gen := uint32(1)
	if existing, ok := m.images[name]; ok {
		gen = existing.generation + 1
	}
	m.images[name] = &image{name: name, abi: abi, generation: gen}
	return nil
}

// Unload removes an image if it has no open instances.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[name]
	if !ok {
		return nil
	}
	if img.refCount > 0 {
		return pulleyerrors.ErrRuntime.New(name + ": backend still has open instances")
	}
	delete(m.images, name)
	return nil
}

// Open starts a new instance of the named backend (§6.2: Uninitialized ->
// Open).
func (m *Manager) Open(name string, args []string) (InstanceHandle, error) {
	m.mu.Lock()
	img, ok := m.images[name]
	if !ok {
		m.mu.Unlock()
		return 0, pulleyerrors.ErrBackendLoad.New(name, "no such backend loaded")
	}
	img.refCount++
	gen := img.generation
	m.mu.Unlock()

	innerHandle, err := img.abi.Open(args)
	if err != nil {
		m.mu.Lock()
		img.refCount--
		m.mu.Unlock()
		return 0, pulleyerrors.ErrRuntime.New(err.Error())
	}

	return handle{index: uint32(innerHandle), generation: gen}.pack(), nil
}

// resolve finds the live image for a handle, rejecting stale handles whose
// generation no longer matches a reloaded image.
func (m *Manager) resolve(name string, h InstanceHandle) (*image, InstanceHandle, error) {
	unpacked := unpack(h)
	m.mu.Lock()
	img, ok := m.images[name]
	m.mu.Unlock()
	if !ok {
		return nil, 0, pulleyerrors.ErrRuntime.New(name + ": backend not loaded")
	}
	if img.generation != unpacked.generation {
		return nil, 0, pulleyerrors.ErrRuntime.New(name + ": stale instance handle (backend was reloaded)")
	}
	return img, InstanceHandle(unpacked.index), nil
}

// Close ends an instance, decrementing the image's reference count
// regardless of whether the plug-in's own Close call succeeds.
func (m *Manager) Close(name string, h InstanceHandle) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	closeErr := img.abi.Close(inner)
	m.mu.Lock()
	if img.refCount > 0 {
		img.refCount--
	}
	m.mu.Unlock()
	return closeErr
}

func (m *Manager) Add(name string, h InstanceHandle, driverLineHash uint32, values [][]byte) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	return img.abi.Add(inner, driverLineHash, values)
}

func (m *Manager) Del(name string, h InstanceHandle, driverLineHash uint32, values [][]byte) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	return img.abi.Del(inner, driverLineHash, values)
}

// Reset discards in-progress add/del calls without invoking the plug-in's
// rollback entry point (§6 Open Question 2, resolved in DESIGN.md: reset
// and rollback are kept distinct).
func (m *Manager) Reset(name string, h InstanceHandle) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	return img.abi.Reset(inner)
}

func (m *Manager) Prepare(name string, h InstanceHandle) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	return img.abi.Prepare(inner)
}

func (m *Manager) Commit(name string, h InstanceHandle) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	return img.abi.Commit(inner)
}

func (m *Manager) Rollback(name string, h InstanceHandle) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	return img.abi.Rollback(inner)
}

func (m *Manager) Collaborate(name string, h InstanceHandle, peers []string) error {
	img, inner, err := m.resolve(name, h)
	if err != nil {
		return err
	}
	return img.abi.Collaborate(inner, peers)
}
