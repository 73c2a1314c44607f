package jensen

import (
	"fmt"
	"time"

	"github.com/google/gousb"
)

// VendorID is the HiDock USB vendor identifier.
const VendorID = 0x10D6

// knownProductIDs is the set of HiDock model PIDs tried, in order, during
// discovery. Unknown models are not probed to avoid claiming interfaces
// on unrelated hardware sharing the vendor range.
var knownProductIDs = []gousb.ID{
	0xAF0C, // H1
	0xAF0D, // H1E
	0xAF0E, // P1
}

// modelForPID maps a known product id to its human-readable model tag.
func modelForPID(pid gousb.ID) string {
	switch pid {
	case 0xAF0C:
		return "H1"
	case 0xAF0D:
		return "H1E"
	case 0xAF0E:
		return "P1"
	default:
		return "unknown"
	}
}

// bulkAudioControlClass is the USB interface class HiDock devices expose
// their bulk command/response endpoints under.
const bulkAudioControlClass = gousb.ClassVendorSpec

// DeviceDescriptor identifies one discovered, unopened device.
type DeviceDescriptor struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	Serial    string
	Model     string
}

// transport is the USB bulk transport contract consumed by framing. It is
// an interface so tests can substitute a synthetic device simulator
// without touching real USB hardware (spec.md §8's "golden device
// simulator").
type transport interface {
	write(b []byte, timeout time.Duration) error
	read(maxLen int, timeout time.Duration) ([]byte, error)
	flushIn(deadline time.Duration)
	maxPacketSize() int
	close() error
}

// usbTransport implements transport over a real gousb bulk IN/OUT
// endpoint pair, grounded on usbtmc.USBDevice's endpoint-claim shape.
type usbTransport struct {
	ctx      *gousb.Context
	device   *gousb.Device
	iface    *gousb.Interface
	closeIfc func()
	in       *gousb.InEndpoint
	out      *gousb.OutEndpoint

	wasDetached bool
}

// enumerate iterates vendorID/productIDs and returns a descriptor for
// every matching device found. Any backend error during the scan is
// treated as "no devices found" rather than propagated, per spec.md §4.1.
func enumerate(vendorID gousb.ID, productIDs []gousb.ID) []DeviceDescriptor {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var out []DeviceDescriptor
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != vendorID {
			return false
		}
		for _, pid := range productIDs {
			if desc.Product == pid {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil
	}
	for _, d := range devs {
		serial, _ := d.SerialNumber()
		out = append(out, DeviceDescriptor{
			VendorID:  vendorID,
			ProductID: d.Desc.Product,
			Serial:    serial,
			Model:     modelForPID(d.Desc.Product),
		})
		d.Close()
	}
	return out
}

// openTransport opens descriptor, claims the bulk interface, and locates
// the first bulk IN/OUT endpoint pair, recording wMaxPacketSize for IN.
func openTransport(desc DeviceDescriptor, forceReset bool) (*usbTransport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(desc.VendorID), gousb.ID(desc.ProductID))
	if err != nil {
		ctx.Close()
		return nil, newErr(ErrKindConnection, err, "open device %04x:%04x", desc.VendorID, desc.ProductID)
	}
	if dev == nil {
		ctx.Close()
		return nil, newErr(ErrKindConnection, nil, "device %04x:%04x not present", desc.VendorID, desc.ProductID)
	}
	if forceReset {
		if err := dev.Reset(); err != nil {
			dev.Close()
			ctx.Close()
			return nil, newErr(ErrKindConnection, err, "reset device")
		}
	}

	wasDetached := false
	if err := dev.SetAutoDetach(true); err == nil {
		wasDetached = true
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, newErr(ErrKindConnection, err, "select config")
	}

	var claimed *gousb.Interface
	var closeIfc func()
	for _, ifaceDesc := range cfg.Desc.Interfaces {
		for _, alt := range ifaceDesc.AltSettings {
			if alt.Class != bulkAudioControlClass {
				continue
			}
			intf, err := cfg.Interface(ifaceDesc.Number, alt.Number)
			if err != nil {
				continue
			}
			claimed = intf
			closeIfc = intf.Close
			break
		}
		if claimed != nil {
			break
		}
	}
	if claimed == nil {
		// fall back to the device's default interface, matching
		// usbtmc.NewUSBDevice's unconditional DefaultInterface() use
		// when no class match is declared by the descriptor.
		intf, done, err := dev.DefaultInterface()
		if err != nil {
			cfg.Close()
			dev.Close()
			ctx.Close()
			return nil, newErr(ErrKindConnection, err, "claim interface")
		}
		claimed = intf
		closeIfc = done
	}

	var inEp *gousb.InEndpoint
	var outEp *gousb.OutEndpoint
	for _, epDesc := range claimed.Setting.Endpoints {
		if epDesc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && inEp == nil {
			inEp, err = claimed.InEndpoint(epDesc.Number)
			if err != nil {
				inEp = nil
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionOut && outEp == nil {
			outEp, err = claimed.OutEndpoint(epDesc.Number)
			if err != nil {
				outEp = nil
			}
		}
	}
	if inEp == nil || outEp == nil {
		closeIfc()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, newErr(ErrKindConnection, nil, "no bulk IN/OUT endpoint pair found")
	}

	return &usbTransport{
		ctx:         ctx,
		device:      dev,
		iface:       claimed,
		closeIfc:    closeIfc,
		in:          inEp,
		out:         outEp,
		wasDetached: wasDetached,
	}, nil
}

func (t *usbTransport) write(b []byte, timeout time.Duration) error {
	n, err := t.out.Write(b)
	if err != nil {
		return newErr(ErrKindTransportIO, err, "bulk write")
	}
	if n != len(b) {
		return newErr(ErrKindTransportIO, nil, "short write: wrote %d of %d bytes", n, len(b))
	}
	return nil
}

func (t *usbTransport) read(maxLen int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, maxLen)
	n, err := t.in.Read(buf)
	if err != nil {
		if isTimeoutErr(err) {
			// timeouts return an empty read; Framing treats this as
			// "no data yet" rather than an error, per spec.md §4.1.
			return nil, nil
		}
		return nil, newErr(ErrKindTransportIO, err, "bulk read")
	}
	return buf[:n], nil
}

func (t *usbTransport) flushIn(deadline time.Duration) {
	deadlineAt := time.Now().Add(deadline)
	consecutiveEmpty := 0
	buf := make([]byte, t.maxPacketSize())
	for time.Now().Before(deadlineAt) && consecutiveEmpty < 2 {
		n, err := t.in.Read(buf)
		if err != nil || n == 0 {
			consecutiveEmpty++
			continue
		}
		consecutiveEmpty = 0
	}
}

func (t *usbTransport) maxPacketSize() int {
	if t.in == nil {
		return 512
	}
	return t.in.Desc.MaxPacketSize
}

func (t *usbTransport) close() error {
	if t.closeIfc != nil {
		t.closeIfc()
	}
	var err error
	if t.device != nil {
		err = t.device.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	if err != nil {
		return newErr(ErrKindTransportIO, err, "close device")
	}
	return nil
}

// isTimeoutErr reports whether err represents a USB transfer timeout, as
// opposed to any other transport failure.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return fmt.Sprintf("%v", err) == "LIBUSB_TRANSFER_TIMED_OUT"
}
