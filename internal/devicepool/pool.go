// Package devicepool leases jensen.Device façades by serial number,
// adapted from comm.Pool's Get/Put/Destroy lifecycle and idle reaper to a
// keyed registry: unlike comm.Pool's fungible connections, a device
// identity (its serial) matters, so callers ask for a specific serial
// rather than "any free connection".
package devicepool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/sgeraldes/hidock-next-sub001/jensen"
)

type entry struct {
	device       *jensen.Device
	leased       bool
	lastReturned time.Time
}

// Pool leases at most maxOpen concurrently-open jensen.Device handles,
// reaping ones idle past idleTimeout, per SPEC_FULL.md §5.
type Pool struct {
	mu          sync.Mutex
	maxOpen     int
	idleTimeout time.Duration
	entries     map[string]*entry
	interrupt   chan struct{}

	// connect opens and connects a façade for serial. Defaults to
	// newDevice()+Connect; overridden in tests the same way
	// jensen.Device's own openFn seam substitutes a simulator for real
	// USB, so pool bookkeeping can be exercised without hardware.
	connect func(ctx context.Context, serial string, forceReset bool) (*jensen.Device, error)

	// newDevice constructs an unconnected façade for the default connect
	// closure above. Defaults to jensen.NewDevice; callers that need
	// config-bound scan IDs or logging flags applied to every leased
	// device (cmd/hidockctl) replace it via SetDeviceFactory instead of
	// reimplementing connect.
	newDevice func() *jensen.Device
}

// NewPool starts the background idle reaper immediately, matching
// comm.NewPool's eager goroutine launch.
func NewPool(maxOpen int, idleTimeout time.Duration) *Pool {
	p := &Pool{
		maxOpen:     maxOpen,
		idleTimeout: idleTimeout,
		entries:     make(map[string]*entry),
		interrupt:   make(chan struct{}),
		newDevice:   jensen.NewDevice,
	}
	p.connect = func(ctx context.Context, serial string, forceReset bool) (*jensen.Device, error) {
		dev := p.newDevice()
		if _, err := dev.Connect(ctx, serial, forceReset); err != nil {
			return nil, err
		}
		return dev, nil
	}
	go p.reapIdle()
	return p
}

// SetDeviceFactory overrides how the default connect closure constructs
// an unconnected façade before calling Connect, so every device this pool
// leases picks up the same scan IDs and logging flags (cmd/hidockctl
// applies internal/config.Config here). Has no effect once connect
// itself has been overridden (e.g. in tests).
func (p *Pool) SetDeviceFactory(f func() *jensen.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newDevice = f
}

func connectBackoff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      15 * time.Second,
		Clock:               backoff.SystemClock,
	}
}

// Get leases the device with the given serial, connecting and
// backoff-retrying if it is not already open. Returns an error if the
// serial is already leased to another caller or the pool is at capacity.
func (p *Pool) Get(ctx context.Context, serial string, forceReset bool) (*jensen.Device, error) {
	p.mu.Lock()
	if e, ok := p.entries[serial]; ok {
		if e.leased {
			p.mu.Unlock()
			return nil, fmt.Errorf("devicepool: device %q is already leased", serial)
		}
		e.leased = true
		p.mu.Unlock()
		return e.device, nil
	}
	if len(p.entries) >= p.maxOpen {
		p.mu.Unlock()
		return nil, fmt.Errorf("devicepool: at capacity (%d open devices)", p.maxOpen)
	}
	p.mu.Unlock()

	var dev *jensen.Device
	op := func() error {
		d, err := p.connect(ctx, serial, forceReset)
		if err != nil {
			return err
		}
		dev = d
		return nil
	}
	if err := backoff.Retry(op, connectBackoff()); err != nil {
		return nil, fmt.Errorf("devicepool: connect %q: %w", serial, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[serial] = &entry{device: dev, leased: true}
	return dev, nil
}

// Put returns a leased device to the pool for reuse.
func (p *Pool) Put(serial string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[serial]; ok {
		e.leased = false
		e.lastReturned = time.Now()
	}
}

// Destroy disconnects and discards the device with the given serial,
// for use when it has gone bad (matching comm.Pool.Destroy).
func (p *Pool) Destroy(serial string) {
	p.mu.Lock()
	e, ok := p.entries[serial]
	if ok {
		delete(p.entries, serial)
	}
	p.mu.Unlock()
	if ok {
		_ = e.device.Disconnect(context.Background())
	}
}

// ReturnWithError calls Put if err is nil, else Destroy.
func (p *Pool) ReturnWithError(serial string, err error) {
	if err != nil {
		p.Destroy(serial)
		return
	}
	p.Put(serial)
}

// Size returns the number of devices currently tracked, leased or idle.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Active returns the number of devices currently leased out.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.leased {
			n++
		}
	}
	return n
}

func (p *Pool) reapIdle() {
	ticker := time.NewTicker(p.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.interrupt:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var stale []*entry
	for serial, e := range p.entries {
		if !e.leased && !e.lastReturned.IsZero() && time.Since(e.lastReturned) > p.idleTimeout {
			delete(p.entries, serial)
			stale = append(stale, e)
		}
	}
	p.mu.Unlock()
	for _, e := range stale {
		_ = e.device.Disconnect(context.Background())
	}
}

// Close stops the idle reaper and disconnects every tracked device,
// leased or not.
func (p *Pool) Close() {
	close(p.interrupt)
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()
	for _, e := range entries {
		_ = e.device.Disconnect(context.Background())
	}
}
