package shell

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/gallery"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by actions on a closed Controller.
var ErrClosed = errors.New("controller closed")

// Opts has options for a new Controller.
type Opts struct {
	// Profiles returns the constraint cascade for a device.
	// camera.DefaultProfiles if nil.
	Profiles func(deviceID string) []camera.Constraints

	// Gallery receives the captured artifacts. A new store if nil.
	Gallery *gallery.Store
}

// Controller owns the application state, the capture session and the
// gallery. It is safe for concurrent use.
type Controller struct {
	md      camera.MediaDevices
	neg     *camera.Negotiator
	session *camera.Session
	gallery *gallery.Store

	// opMu serializes changes to the session. It is never acquired while
	// holding mu.
	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	gen    uint64 // Request generation, a negotiation result is only attached if still current.
	subs   map[chan struct{}]struct{}
	closed bool
}

// NewController returns a controller capturing from md. Call Refresh to list
// devices and attach the first one.
func NewController(md camera.MediaDevices, opts Opts) *Controller {
	g := opts.Gallery
	if g == nil {
		g = &gallery.Store{}
	}
	return &Controller{
		md:      md,
		neg:     &camera.Negotiator{Devices: md, Profiles: opts.Profiles},
		session: &camera.Session{},
		gallery: g,
		subs:    map[chan struct{}]struct{}{},
	}
}

// Gallery returns the store artifacts are appended to.
func (c *Controller) Gallery() *gallery.Store { return c.gallery }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the render model of the current state.
func (c *Controller) View() View { return c.State().View() }

// Frame returns the latest preview frame of the attached stream.
func (c *Controller) Frame() (image.Image, error) {
	return c.session.Frame()
}

// Subscribe returns a channel that receives a value after state changes.
// Changes are coalesced while the receiver is busy. The channel is closed by
// cancel and by Close.
func (c *Controller) Subscribe() (changes <-chan struct{}, cancel func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// applyLocked transitions the state. c.mu must be held.
func (c *Controller) applyLocked(ev Event) {
	c.state = c.state.Apply(ev)
	log.Debug().
		Uint64("version", c.state.Version).
		Str("event", fmt.Sprintf("%T", ev)).
		Msg("State changed")
	for ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) apply(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(ev)
}

// Refresh lists the devices and selects the first one. On failure the error
// is shown and the session released. A Refresh or Select issued meanwhile
// takes precedence over the result.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	devs, err := camera.ListDevices(ctx, c.md)

	c.opMu.Lock()
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.opMu.Unlock()
		log.Debug().Msg("Discarding superseded device listing")
		return nil
	}
	if err != nil && ctx.Err() != nil {
		c.mu.Unlock()
		c.opMu.Unlock()
		log.Debug().Err(err).Msg("Device listing canceled")
		return err
	}
	if err != nil {
		c.applyLocked(ListFailed{Err: err})
		c.mu.Unlock()
		c.teardown()
		c.opMu.Unlock()
		log.Error().Err(err).Msg("Listing devices")
		return err
	}
	c.applyLocked(DevicesListed{Devices: devs})
	c.mu.Unlock()
	c.opMu.Unlock()

	return c.Select(ctx, devs[0].ID)
}

// Select negotiates a stream for the device and attaches it, replacing the
// attached stream. A recording in progress is finished first and its video
// is kept. Selecting the attached device does nothing.
func (c *Controller) Select(ctx context.Context, deviceID string) error {
	c.opMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.opMu.Unlock()
		return ErrClosed
	}
	if !c.state.Pending && c.state.Attached != "" && c.state.Attached == deviceID {
		c.mu.Unlock()
		c.opMu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.applyLocked(DeviceSelected{DeviceID: deviceID})
	c.mu.Unlock()
	// Release before negotiating, the device may not be opened twice.
	c.teardown()
	c.opMu.Unlock()

	stream, err := c.neg.Negotiate(ctx, deviceID)

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		if stream != nil {
			if cerr := stream.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("Closing superseded stream")
			}
			log.Debug().Str("device", deviceID).Msg("Closed superseded stream")
		}
		return nil
	}
	if err != nil && ctx.Err() != nil {
		c.applyLocked(SelectionCanceled{})
		log.Debug().Err(err).Str("device", deviceID).Msg("Negotiation canceled")
		return err
	}
	if err != nil {
		c.applyLocked(NegotiationFailed{Err: err})
		log.Error().Err(err).Str("device", deviceID).Msg("Negotiating stream")
		return err
	}
	// The last profile may have fallen back to any device.
	attached := stream.DeviceID()
	if err := c.session.Attach(stream); err != nil {
		c.applyLocked(AttachFailed{Err: err})
		log.Error().Err(err).Str("device", deviceID).Msg("Attaching stream")
		return err
	}
	c.applyLocked(StreamAttached{DeviceID: attached})
	return nil
}

// teardown finishes a recording in progress, keeping its video, and releases
// the session. c.opMu must be held, c.mu must not.
func (c *Controller) teardown() {
	if _, err := c.stopRecording(); err != nil {
		log.Warn().Err(err).Msg("Finishing recording before release")
	}
	if err := c.session.Release(); err != nil {
		log.Warn().Err(err).Msg("Releasing session")
	}
	c.mu.Lock()
	if c.state.Attached != "" || c.state.Recording {
		c.applyLocked(Released{})
	}
	c.mu.Unlock()
}

func (c *Controller) addArtifact(a *camera.Artifact) camera.Artifact {
	stored := c.gallery.Append(*a)
	c.apply(ArtifactAdded{Artifact: stored})
	return stored
}

// CapturePhoto captures the current preview frame into the gallery. Without
// an attached stream or a frame, it returns nil and no error.
func (c *Controller) CapturePhoto() (*camera.Artifact, error) {
	a, err := c.session.CapturePhoto()
	if err != nil || a == nil {
		return nil, err
	}
	stored := c.addArtifact(a)
	return &stored, nil
}

// StartRecording starts recording the attached stream. It does nothing if
// no stream is attached or a recording is in progress.
func (c *Controller) StartRecording() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startRecording()
}

func (c *Controller) startRecording() error {
	if err := c.session.StartRecording(); err != nil {
		return err
	}
	if c.session.State() == camera.Recording {
		c.mu.Lock()
		if !c.state.Recording {
			c.applyLocked(RecordingStarted{})
		}
		c.mu.Unlock()
	}
	return nil
}

// StopRecording finishes the recording in progress and appends its video to
// the gallery. Without a recording, it returns nil and no error.
func (c *Controller) StopRecording() (*camera.Artifact, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopRecording()
}

func (c *Controller) stopRecording() (*camera.Artifact, error) {
	a, err := c.session.StopRecording()
	c.mu.Lock()
	if c.state.Recording {
		c.applyLocked(RecordingStopped{})
	}
	c.mu.Unlock()
	if err != nil || a == nil {
		return nil, err
	}
	stored := c.addArtifact(a)
	return &stored, nil
}

// ToggleRecording stops a recording in progress, or starts one. It returns
// the video of a stopped recording.
func (c *Controller) ToggleRecording() (*camera.Artifact, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.session.State() == camera.Recording {
		return c.stopRecording()
	}
	return nil, c.startRecording()
}

// Close finishes a recording in progress, releases the session and closes
// all subscriptions. Negotiations still in flight are discarded.
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.mu.Unlock()

	c.teardown()

	c.mu.Lock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.mu.Unlock()
	return nil
}
