package camera

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind tells photos and videos apart.
type MediaKind int

// MediaKind definitions.
const (
	Photo MediaKind = iota + 1
	Video
)

func (k MediaKind) String() string {
	switch k {
	case Photo:
		return "photo"
	case Video:
		return "video"
	}
	return "unknown"
}

// Artifact is a captured photo or finalized video clip.
type Artifact struct {
	Kind MediaKind

	// Locator is an opaque reference used to display the artifact.
	Locator string

	// Ordinal is the append position in the gallery, set by the gallery.
	Ordinal int

	MIMEType string
	Data     []byte
	Created  time.Time
}

func newArtifact(kind MediaKind, m Media) *Artifact {
	return &Artifact{
		Kind:     kind,
		Locator:  uuid.NewString(),
		MIMEType: m.MIMEType,
		Data:     m.Data,
		Created:  time.Now(),
	}
}
