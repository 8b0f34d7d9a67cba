package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/threadline/internal/model"
	"github.com/matheus3301/threadline/internal/wire"
)

func encodeContent(c model.Content) (string, error) {
	data, err := json.Marshal(wire.EncodeContent(c))
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(data), nil
}

func decodeContent(raw string) (model.Content, error) {
	var f wire.ContentFields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return f.Decode()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
