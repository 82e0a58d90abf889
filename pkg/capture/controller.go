package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/parlato/pkg/errorsx"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid capture transition from " + e.From.String() + " to " + e.To.String()
}

// Options configures a capture controller.
type Options struct {
	// Preferences is the ordered encoding negotiation list; defaults to
	// DefaultPreferences.
	Preferences []string
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Controller owns one recording device handle and drives the capture state
// machine. Pausing suspends both chunk intake and the elapsed counter;
// stopping finalizes whatever was captured rather than discarding it.
type Controller struct {
	mu    sync.Mutex
	state State
	// starting holds the Idle→Recording slot across device acquisition
	// so two simultaneous Start calls cannot both acquire the device.
	starting bool
	device   Device
	prefs    []string
	mime     string
	chunks   [][]byte
	elapsed  int

	quit   chan struct{}
	drain  sync.WaitGroup
	clock  func() time.Time
	logger *slog.Logger
}

// NewController wraps a device. The controller starts in Idle.
func NewController(device Device, opts Options) *Controller {
	prefs := opts.Preferences
	if len(prefs) == 0 {
		prefs = DefaultPreferences
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		state:  StateIdle,
		device: device,
		prefs:  prefs,
		clock:  clock,
		logger: logger,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// validTransitions is consulted under the controller mutex.
var validTransitions = map[State][]State{
	StateIdle:      {StateRecording},
	StateRecording: {StatePaused, StateStopped},
	StatePaused:    {StateRecording, StateStopped},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Start acquires the device, negotiates the encoding from the preference
// list, and begins capturing. The elapsed counter ticks at one-second
// granularity from zero.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || !transitionValid(c.state, StateRecording) || c.state != StateIdle {
		from := c.state
		c.mu.Unlock()
		return &InvalidTransitionError{From: from, To: StateRecording}
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	if err := c.device.Acquire(ctx); err != nil {
		return errorsx.Wrap(fmt.Errorf("acquire capture device: %w", err), errorsx.ReasonDeviceUnavailable)
	}

	mime := ""
	for _, candidate := range c.prefs {
		if c.device.Supports(candidate) {
			mime = candidate
			break
		}
	}
	if mime == "" {
		_ = c.device.Release()
		return errorsx.New(errorsx.ReasonDeviceUnavailable, "no supported encoding among %v", c.prefs)
	}

	c.mu.Lock()
	c.state = StateRecording
	c.mime = mime
	c.chunks = nil
	c.elapsed = 0
	c.quit = make(chan struct{})
	c.mu.Unlock()

	c.drain.Add(2)
	go c.drainChunks()
	go c.tick()

	c.logger.Info("capture_started", slog.String("mime", mime))
	return nil
}

// TogglePause flips between Recording and Paused. The elapsed counter and
// chunk intake pause and resume in lockstep with capture.
func (c *Controller) TogglePause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRecording:
		c.state = StatePaused
	case StatePaused:
		c.state = StateRecording
	default:
		return &InvalidTransitionError{From: c.state, To: StatePaused}
	}
	c.logger.Info("capture_pause_toggled", slog.String("state", c.state.String()))
	return nil
}

// Stop finalizes all captured chunks into one clip and releases the device.
// Stop from Idle (or after a previous Stop) is a no-op returning nothing.
func (c *Controller) Stop() (*Clip, error) {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateStopped {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = StateStopped
	close(c.quit)
	mime := c.mime
	seconds := c.elapsed
	c.mu.Unlock()

	err := c.device.Release()
	c.drain.Wait()

	c.mu.Lock()
	var size int
	for _, chunk := range c.chunks {
		size += len(chunk)
	}
	data := make([]byte, 0, size)
	for _, chunk := range c.chunks {
		data = append(data, chunk...)
	}
	c.chunks = nil
	c.mu.Unlock()

	clip := &Clip{
		Data:     data,
		MIME:     mime,
		FileName: fmt.Sprintf("recording-%d.%s", c.clock().Unix(), extensionFor(mime)),
		Seconds:  seconds,
	}
	if err != nil {
		return clip, errorsx.Wrap(fmt.Errorf("release capture device: %w", err), errorsx.ReasonDeviceUnavailable)
	}
	c.logger.Info("capture_stopped",
		slog.Int("bytes", len(clip.Data)),
		slog.Int("seconds", clip.Seconds),
	)
	return clip, nil
}

// Elapsed returns the recorded seconds so far, excluding paused time.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// FormatElapsed renders the elapsed counter as MM:SS.
func (c *Controller) FormatElapsed() string {
	seconds := c.Elapsed()
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// drainChunks appends device chunks while recording. Chunks arriving while
// paused are dropped, so a stop from Paused finalizes only the chunks
// captured before the pause boundary.
func (c *Controller) drainChunks() {
	defer c.drain.Done()
	for {
		select {
		case chunk, ok := <-c.device.Chunks():
			if !ok {
				return
			}
			c.mu.Lock()
			if c.state == StateRecording {
				c.chunks = append(c.chunks, chunk)
			}
			c.mu.Unlock()
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) tick() {
	defer c.drain.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.state == StateRecording {
				c.elapsed++
			}
			c.mu.Unlock()
		case <-c.quit:
			return
		}
	}
}

func extensionFor(mime string) string {
	base := mime
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	if idx := strings.Index(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if base == "" {
		return "bin"
	}
	return base
}
