package video

import (
	"fmt"
	"strconv"
	"strings"
)

// RawCaps is the part of a raw video caps description a player needs.
type RawCaps struct {
	Format        string
	Width, Height int
	FrameRate     float64
}

// ParseRawCaps reads a serialized caps string such as
//
//	video/x-raw, format=(string)BGRA, width=(int)1920, height=(int)1080, framerate=(fraction)30000/1001
//
// Only the first structure is considered.
func ParseRawCaps(s string) (RawCaps, error) {
	s, _, _ = strings.Cut(s, ";")
	fields := strings.Split(s, ",")
	if len(fields) == 0 || strings.TrimSpace(fields[0]) != "video/x-raw" {
		return RawCaps{}, fmt.Errorf("video: not raw video caps: %q", s)
	}

	var c RawCaps
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok {
			continue
		}
		// Drop the "(type)" annotation.
		if strings.HasPrefix(val, "(") {
			if i := strings.IndexByte(val, ')'); i >= 0 {
				val = val[i+1:]
			}
		}
		var err error
		switch key {
		case "format":
			c.Format = val
		case "width":
			c.Width, err = strconv.Atoi(val)
		case "height":
			c.Height, err = strconv.Atoi(val)
		case "framerate":
			c.FrameRate, err = ParseRate(val)
		}
		if err != nil {
			return RawCaps{}, fmt.Errorf("video: caps field %s=%q: %w", key, val, err)
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return RawCaps{}, fmt.Errorf("video: caps without size: %q", s)
	}
	return c, nil
}

// ParseRate parses "num/den" or a plain number. A zero denominator yields 0.
func ParseRate(s string) (float64, error) {
	num, den, frac := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if !frac {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}
