// Package shell holds the application state of the capture UI and wires user
// actions to the device lister, the negotiator, the capture session and the
// gallery.
package shell

import (
	"errors"
	"slices"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
)

// ErrorKind classifies the failure shown in the error slot.
type ErrorKind int

// ErrorKind definitions.
const (
	PermissionDenied ErrorKind = iota + 1
	NoDeviceFound
	NegotiationExhausted
	AttachFailure
	ListFailure
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission-denied"
	case NoDeviceFound:
		return "no-device-found"
	case NegotiationExhausted:
		return "negotiation-exhausted"
	case AttachFailure:
		return "attach-failure"
	case ListFailure:
		return "list-failure"
	}
	return "unknown"
}

// ErrorState is the current error shown to the user.
type ErrorState struct {
	Kind    ErrorKind
	Message string
}

func newErrorState(err error) *ErrorState {
	kind := ListFailure
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		kind = PermissionDenied
	case errors.Is(err, camera.ErrNoDeviceFound):
		kind = NoDeviceFound
	case errors.Is(err, camera.ErrNegotiationExhausted):
		kind = NegotiationExhausted
	case errors.Is(err, camera.ErrAttach):
		kind = AttachFailure
	}
	return &ErrorState{Kind: kind, Message: err.Error()}
}

// ArtifactRef describes a gallery artifact without its data.
type ArtifactRef struct {
	Kind     camera.MediaKind
	Locator  string
	MIMEType string
	Ordinal  int
	Created  time.Time
}

// State is the application state. Transitions never modify a State in
// place, Apply returns the next one.
type State struct {
	Version uint64 // Incremented by every transition.

	Devices  []camera.Device
	Selected string // Device last chosen for negotiation.
	Attached string // Device of the attached stream, empty when idle.
	Pending  bool   // Negotiation for Selected in progress.

	Recording bool
	Error     *ErrorState
	Artifacts []ArtifactRef
}

// Event is a state transition.
type Event interface {
	apply(s *State)
}

// Apply returns the state after ev.
func (s State) Apply(ev Event) State {
	n := s
	ev.apply(&n)
	n.Version = s.Version + 1
	return n
}

// DevicesListed replaces the device list after a successful listing and
// clears the error.
type DevicesListed struct {
	Devices []camera.Device
}

func (e DevicesListed) apply(s *State) {
	s.Devices = slices.Clone(e.Devices)
	s.Error = nil
}

// ListFailed records a failed listing.
type ListFailed struct {
	Err error
}

func (e ListFailed) apply(s *State) {
	s.Devices = nil
	s.Selected = ""
	s.Pending = false
	s.Error = newErrorState(e.Err)
}

// DeviceSelected marks the start of a negotiation for a device.
type DeviceSelected struct {
	DeviceID string
}

func (e DeviceSelected) apply(s *State) {
	s.Selected = e.DeviceID
	s.Pending = true
}

// StreamAttached records the stream of a device being attached to the
// session. It clears a negotiation or attach error left by an earlier
// selection.
type StreamAttached struct {
	DeviceID string
}

func (e StreamAttached) apply(s *State) {
	s.Attached = e.DeviceID
	s.Pending = false
	s.Recording = false
	if s.Error != nil && (s.Error.Kind == NegotiationExhausted || s.Error.Kind == AttachFailure) {
		s.Error = nil
	}
}

// NegotiationFailed records that no constraint profile produced a stream.
type NegotiationFailed struct {
	Err error
}

func (e NegotiationFailed) apply(s *State) {
	s.Pending = false
	s.Error = newErrorState(e.Err)
}

// SelectionCanceled records a negotiation abandoned by its caller. The
// attached stream and any earlier error are left as they were.
type SelectionCanceled struct{}

func (SelectionCanceled) apply(s *State) {
	s.Pending = false
}

// AttachFailed records that a negotiated stream could not be attached.
type AttachFailed struct {
	Err error
}

func (e AttachFailed) apply(s *State) {
	s.Pending = false
	s.Error = newErrorState(e.Err)
}

// RecordingStarted records the start of a recording.
type RecordingStarted struct{}

func (RecordingStarted) apply(s *State) { s.Recording = true }

// RecordingStopped records the end of a recording.
type RecordingStopped struct{}

func (RecordingStopped) apply(s *State) { s.Recording = false }

// ArtifactAdded records an artifact appended to the gallery.
type ArtifactAdded struct {
	Artifact camera.Artifact
}

func (e ArtifactAdded) apply(s *State) {
	a := e.Artifact
	s.Artifacts = append(slices.Clip(s.Artifacts), ArtifactRef{
		Kind:     a.Kind,
		Locator:  a.Locator,
		MIMEType: a.MIMEType,
		Ordinal:  a.Ordinal,
		Created:  a.Created,
	})
}

// Released records the session going idle.
type Released struct{}

func (Released) apply(s *State) {
	s.Attached = ""
	s.Recording = false
}

// DeviceOption is an entry of the device selector.
type DeviceOption struct {
	ID       string
	Label    string
	Selected bool
}

// View is what the UI renders for a state.
type View struct {
	Version uint64

	// The selector is shown with at least two devices.
	ShowSelector bool
	Devices      []DeviceOption

	Error *ErrorState

	// Preview and controls are suppressed while an error is shown.
	ShowPreview  bool
	ShowControls bool
	CanCapture   bool
	Recording    bool
	Pending      bool

	Artifacts []ArtifactRef
}

// View derives the render model of s.
func (s State) View() View {
	v := View{
		Version:      s.Version,
		ShowSelector: len(s.Devices) >= 2,
		Error:        s.Error,
		ShowPreview:  s.Error == nil,
		ShowControls: s.Error == nil,
		CanCapture:   s.Error == nil && s.Attached != "",
		Recording:    s.Recording,
		Pending:      s.Pending,
		Artifacts:    slices.Clone(s.Artifacts),
	}
	for i, d := range s.Devices {
		v.Devices = append(v.Devices, DeviceOption{
			ID:       d.ID,
			Label:    d.DisplayLabel(i),
			Selected: d.ID == s.Selected,
		})
	}
	return v
}
