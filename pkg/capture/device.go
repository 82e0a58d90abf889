package capture

import "context"

// Device is an exclusive handle on an audio input. Exactly one recording may
// hold a device at a time; the controller acquires it on start and releases
// it on stop.
type Device interface {
	// Acquire claims the device. Fails when the capability is denied.
	Acquire(ctx context.Context) error
	// Supports reports whether the device can produce the given MIME type.
	Supports(mime string) bool
	// Chunks yields encoded audio chunks while the device is held. The
	// channel is closed when the device is released.
	Chunks() <-chan []byte
	// Release frees the device handle.
	Release() error
}

// DefaultPreferences is the ordered encoding negotiation list. The first
// format the device supports wins and is recorded on the finalized clip so
// downstream consumers know the MIME type to send.
var DefaultPreferences = []string{
	"audio/webm;codecs=opus",
	"audio/ogg;codecs=opus",
	"audio/wav",
}

// Clip is a finalized recording: every chunk captured between start and stop
// concatenated into one payload, tagged with the negotiated container/codec.
type Clip struct {
	Data     []byte
	MIME     string
	FileName string
	Seconds  int
}
