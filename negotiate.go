package camera

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Range bounds a resolution dimension. Zero fields are unconstrained.
type Range struct {
	Ideal int
	Max   int
}

// IsZero reports whether the range constrains nothing.
func (r Range) IsZero() bool { return r.Ideal == 0 && r.Max == 0 }

// Allows reports whether v lies within the range.
func (r Range) Allows(v int) bool { return r.Max == 0 || v <= r.Max }

func (r Range) String() string {
	switch {
	case r.IsZero():
		return "any"
	case r.Max == 0:
		return fmt.Sprintf("ideal %d", r.Ideal)
	}
	return fmt.Sprintf("ideal %d max %d", r.Ideal, r.Max)
}

// Constraints is one capture configuration request.
type Constraints struct {
	DeviceID string // Exact device, or any video device if empty.
	Width    Range
	Height   Range
}

// HasResolution reports whether c bounds the resolution.
func (c Constraints) HasResolution() bool {
	return !c.Width.IsZero() || !c.Height.IsZero()
}

// Allows reports whether a capture mode of width x height satisfies the
// resolution bounds of c.
func (c Constraints) Allows(width, height int) bool {
	return c.Width.Allows(width) && c.Height.Allows(height)
}

func (c Constraints) String() string {
	dev := c.DeviceID
	if dev == "" {
		dev = "any"
	}
	return fmt.Sprintf("device=%s width=(%s) height=(%s)", dev, c.Width, c.Height)
}

// DefaultProfiles returns the constraint cascade used for deviceID, from
// most to least specific: the exact device at 1280x720 capped at
// 1920x1080, the exact device at any resolution, and any video device.
func DefaultProfiles(deviceID string) []Constraints {
	return []Constraints{
		{
			DeviceID: deviceID,
			Width:    Range{Ideal: 1280, Max: 1920},
			Height:   Range{Ideal: 720, Max: 1080},
		},
		{DeviceID: deviceID},
		{},
	}
}

// FirstSuccess calls try for each attempt in order and returns the first
// successful result together with its index. No attempt is made after a
// success. If all attempts fail, the error of the last attempt is returned
// with index -1. A done context stops the sequence between attempts.
func FirstSuccess[A, T any](ctx context.Context, attempts []A, try func(ctx context.Context, i int, a A) (T, error)) (T, int, error) {
	var zero T
	lastErr := errors.New("no attempts")
	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, -1, err
		}
		v, err := try(ctx, i, a)
		if err == nil {
			return v, i, nil
		}
		lastErr = err
	}
	return zero, -1, lastErr
}

// Negotiator acquires a stream for a device by trying constraint profiles
// in order.
type Negotiator struct {
	Devices MediaDevices

	// Profiles returns the cascade for a device. DefaultProfiles if nil.
	Profiles func(deviceID string) []Constraints
}

// Negotiate returns the stream of the first profile the source accepts. If
// every profile fails, Negotiate returns a *NegotiationExhaustedError
// carrying the last error.
func (n *Negotiator) Negotiate(ctx context.Context, deviceID string) (Stream, error) {
	profiles := n.Profiles
	if profiles == nil {
		profiles = DefaultProfiles
	}
	attempts := profiles(deviceID)

	stream, i, err := FirstSuccess(ctx, attempts, func(ctx context.Context, i int, c Constraints) (Stream, error) {
		s, err := n.Devices.GetUserMedia(ctx, c)
		if err != nil {
			log.Debug().
				Err(err).
				Int("attempt", i+1).
				Str("constraints", c.String()).
				Msg("Constraint attempt failed")
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &NegotiationExhaustedError{DeviceID: deviceID, Attempts: len(attempts), Err: err}
	}

	log.Debug().
		Int("attempt", i+1).
		Str("device", stream.DeviceID()).
		Str("stream", stream.ID()).
		Msg("Negotiated stream")
	return stream, nil
}
