package jensen

import (
	"time"

	"github.com/cenkalti/backoff"
)

// reconnectBackoff paces the recovery ladder's reconnect step, mirroring comm.RemoteDevice.Open's exponential backoff shape
// (the NKT sources in the teacher pack "do not like being connection
// thrashed"; HiDock devices are no more patient about it).
func reconnectBackoff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	}
}

// RecoverFromError runs the three-step recovery ladder of spec.md §4.7:
//  1. soft reset (drop cached descriptors, zero sequence) then a
//     connection test;
//  2. disconnect and reconnect with forceReset=true, ignoring errors from
//     disconnect itself;
//  3. fail if the reconnect does not yield device info.
//
// Steps 1 and 3 run once per call. Step 2's reconnect is retried with
// reconnectBackoff until it succeeds or the backoff's 3s elapsed-time
// bound runs out.
func (d *Device) RecoverFromError() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetStateLocked()
	if err := d.testConnectionLocked(); err == nil {
		return true
	}

	_ = d.disconnectLocked() // errors during disconnect are ignored, per §4.7 step 2

	var info DeviceInfo
	op := func() error {
		var err error
		info, err = d.connectLocked(d.lastDescriptor, true)
		return err
	}
	if err := backoff.Retry(op, reconnectBackoff()); err != nil {
		d.stats.recordError(ErrKindRecoveryFailed)
		return false
	}
	return info.Serial != ""
}

// resetStateLocked drops cached descriptors and zeroes the sequence
// counter, the "soft reset" half of the recovery ladder's first step.
func (d *Device) resetStateLocked() {
	d.sequence = 0
	d.cachedInfo = nil
	d.cachedCapabilities = nil
}

// testConnectionLocked issues a cheap round-trip (GetDeviceInfo) to check
// whether the existing handle is still alive.
func (d *Device) testConnectionLocked() error {
	if d.transport == nil {
		return newErr(ErrKindTransportIO, nil, "no transport open")
	}
	_, err := d.getDeviceInfoLocked()
	return err
}

// ResetDeviceState is the public, non-recovery entry point for dropping
// cached descriptors and zeroing the sequence counter (spec.md §4.8).
func (d *Device) ResetDeviceState() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetStateLocked()
}
