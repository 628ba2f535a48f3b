// Package models provides request and response models for the navcore API.
package models

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Timestamp is written as an RFC 3339 string in UTC with millisecond
// precision. It reads RFC 3339 strings and Unix epoch milliseconds, which
// is what most device location APIs report.
type Timestamp time.Time

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, len(timestampLayout)+2)
	b = append(b, '"')
	b = time.Time(t).UTC().AppendFormat(b, timestampLayout)
	return append(b, '"'), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"':
		parsed, err := time.Parse(time.RFC3339Nano, string(data[1:len(data)-1]))
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		*t = Timestamp(parsed)
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp: want an RFC 3339 string or epoch milliseconds, got %s", data)
	}
	*t = Timestamp(time.UnixMilli(ms))
	return nil
}

func (t Timestamp) Time() time.Time { return time.Time(t) }

func (t Timestamp) IsZero() bool { return time.Time(t).IsZero() }
