package wire

import (
	"fmt"
	"time"

	"github.com/matheus3301/threadline/internal/model"
)

// ContentFields is the flattened content representation shared by messages
// and send requests.
type ContentFields struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	URL        string `json:"url,omitempty"`
	Caption    string `json:"caption,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	Size       int64  `json:"size,omitempty"`
	MIMEType   string `json:"mimeType,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// EncodeContent flattens a content variant.
func EncodeContent(c model.Content) ContentFields {
	switch v := c.(type) {
	case model.Text:
		return ContentFields{Type: string(model.KindText), Content: v.Body}
	case model.Image:
		return ContentFields{Type: string(model.KindImage), URL: v.URL, Caption: v.Caption, Width: v.Width, Height: v.Height}
	case model.File:
		return ContentFields{Type: string(model.KindFile), URL: v.URL, FileName: v.Name, Size: v.Size, MIMEType: v.MIMEType}
	case model.Voice:
		return ContentFields{Type: string(model.KindVoice), URL: v.URL, DurationMS: v.Duration.Milliseconds()}
	}
	return ContentFields{}
}

// Decode rebuilds the content variant named by Type and validates it.
func (f ContentFields) Decode() (model.Content, error) {
	var c model.Content
	switch model.ContentKind(f.Type) {
	case model.KindText, "":
		c = model.Text{Body: f.Content}
	case model.KindImage:
		c = model.Image{URL: f.URL, Caption: f.Caption, Width: f.Width, Height: f.Height}
	case model.KindFile:
		c = model.File{URL: f.URL, Name: f.FileName, Size: f.Size, MIMEType: f.MIMEType}
	case model.KindVoice:
		c = model.Voice{URL: f.URL, Duration: time.Duration(f.DurationMS) * time.Millisecond}
	default:
		return nil, fmt.Errorf("unknown content type %q", f.Type)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
