package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/parlato/pkg/capture"
)

// Device is a scriptable capture device.
type Device struct {
	// Denied makes Acquire fail, simulating a refused capability.
	Denied bool
	// Formats lists the MIME types the device claims to support.
	Formats []string

	mu     sync.Mutex
	chunks chan []byte
	held   bool
}

func NewDevice(formats ...string) *Device {
	if len(formats) == 0 {
		formats = capture.DefaultPreferences
	}
	return &Device{
		Formats: formats,
		chunks:  make(chan []byte, 64),
	}
}

func (d *Device) Acquire(ctx context.Context) error {
	if d.Denied {
		return errors.New("capture permission denied")
	}
	d.mu.Lock()
	d.held = true
	d.mu.Unlock()
	return nil
}

func (d *Device) Supports(mime string) bool {
	for _, f := range d.Formats {
		if f == mime {
			return true
		}
	}
	return false
}

func (d *Device) Chunks() <-chan []byte { return d.chunks }

func (d *Device) Release() error {
	d.mu.Lock()
	d.held = false
	d.mu.Unlock()
	return nil
}

// Feed pushes one chunk into the device, as if the microphone produced it.
func (d *Device) Feed(data []byte) {
	d.chunks <- data
}

// Held reports whether the device is currently acquired.
func (d *Device) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

var _ capture.Device = (*Device)(nil)
