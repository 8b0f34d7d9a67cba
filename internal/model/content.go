package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentKind names a content variant on the wire.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindFile  ContentKind = "file"
	KindVoice ContentKind = "voice"
)

// Content is the payload of a message. The set of implementations is closed:
// Text, Image, File and Voice.
type Content interface {
	Kind() ContentKind
	// Preview is the one-line summary shown in session lists.
	Preview() string
	// SearchText is the text thread search matches against.
	SearchText() string
	Validate() error
	isContent()
}

// Text is a plain text message.
type Text struct {
	Body string
}

func (Text) Kind() ContentKind { return KindText }
func (t Text) Preview() string { return oneLine(t.Body) }
func (t Text) SearchText() string { return t.Body }
func (Text) isContent() {}
func (t Text) Validate() error {
	if strings.TrimSpace(t.Body) == "" {
		return errors.New("text body is empty")
	}
	return nil
}

// Image is an image attachment with an optional caption.
type Image struct {
	URL     string
	Caption string
	Width   int
	Height  int
}

func (Image) Kind() ContentKind { return KindImage }
func (i Image) Preview() string {
	if i.Caption != "" {
		return "[image] " + oneLine(i.Caption)
	}
	return "[image]"
}
func (i Image) SearchText() string { return i.Caption }
func (Image) isContent() {}
func (i Image) Validate() error {
	if i.URL == "" {
		return errors.New("image url is empty")
	}
	return nil
}

// File is a generic document attachment.
type File struct {
	URL      string
	Name     string
	Size     int64
	MIMEType string
}

func (File) Kind() ContentKind { return KindFile }
func (f File) Preview() string { return "[file] " + f.Name }
func (f File) SearchText() string { return f.Name }
func (File) isContent() {}
func (f File) Validate() error {
	if f.URL == "" {
		return errors.New("file url is empty")
	}
	if f.Name == "" {
		return errors.New("file name is empty")
	}
	return nil
}

// Voice is a recorded audio note.
type Voice struct {
	URL      string
	Duration time.Duration
}

func (Voice) Kind() ContentKind { return KindVoice }
func (v Voice) Preview() string {
	return fmt.Sprintf("[voice %s]", v.Duration.Round(time.Second))
}
func (Voice) SearchText() string { return "" }
func (Voice) isContent() {}
func (v Voice) Validate() error {
	if v.URL == "" {
		return errors.New("voice url is empty")
	}
	return nil
}

// SameContent reports whether two payloads carry the same user-visible data.
func SameContent(a, b Content) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i] + " …"
	}
	return s
}
