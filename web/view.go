package web

import (
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/shell"
)

type deviceJSON struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

type errorJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type artifactJSON struct {
	Kind      string    `json:"kind"`
	Locator   string    `json:"locator"`
	MIMEType  string    `json:"mimeType"`
	Ordinal   int       `json:"ordinal"`
	Created   time.Time `json:"created"`
	URL       string    `json:"url"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

// viewJSON is the state pushed to the browser and rendered into the page.
type viewJSON struct {
	Version      uint64         `json:"version"`
	ShowSelector bool           `json:"showSelector"`
	Devices      []deviceJSON   `json:"devices"`
	Error        *errorJSON     `json:"error,omitempty"`
	ShowPreview  bool           `json:"showPreview"`
	ShowControls bool           `json:"showControls"`
	CanCapture   bool           `json:"canCapture"`
	Recording    bool           `json:"recording"`
	Pending      bool           `json:"pending"`
	FrameRate    float64        `json:"frameRate"`
	Artifacts    []artifactJSON `json:"artifacts"`
}

func newArtifactJSON(kind camera.MediaKind, locator, mimeType string, ordinal int, created time.Time) artifactJSON {
	a := artifactJSON{
		Kind:     kind.String(),
		Locator:  locator,
		MIMEType: mimeType,
		Ordinal:  ordinal,
		Created:  created,
		URL:      "/media/" + locator,
	}
	if kind == camera.Photo {
		a.Thumbnail = "/thumb/" + locator
	}
	return a
}

func newViewJSON(v shell.View, rate float64) viewJSON {
	out := viewJSON{
		Version:      v.Version,
		ShowSelector: v.ShowSelector,
		Devices:      []deviceJSON{},
		ShowPreview:  v.ShowPreview,
		ShowControls: v.ShowControls,
		CanCapture:   v.CanCapture,
		Recording:    v.Recording,
		Pending:      v.Pending,
		FrameRate:    rate,
		Artifacts:    []artifactJSON{},
	}
	for _, d := range v.Devices {
		out.Devices = append(out.Devices, deviceJSON{ID: d.ID, Label: d.Label, Selected: d.Selected})
	}
	if v.Error != nil {
		out.Error = &errorJSON{Kind: v.Error.Kind.String(), Message: v.Error.Message}
	}
	for _, a := range v.Artifacts {
		out.Artifacts = append(out.Artifacts, newArtifactJSON(a.Kind, a.Locator, a.MIMEType, a.Ordinal, a.Created))
	}
	return out
}
