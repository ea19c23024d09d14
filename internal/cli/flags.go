package cli

import (
	"strconv"
	"strings"
	"time"
)

// secondsValue - длительность флага: "1800" читается как секунды,
// "30m" или "1h30m" - в формате time.ParseDuration.
type secondsValue time.Duration

func newSecondsValue(def time.Duration) *secondsValue {
	v := secondsValue(def)
	return &v
}

func (s *secondsValue) String() string { return time.Duration(*s).String() }

func (s *secondsValue) Set(raw string) error {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*s = secondsValue(time.Duration(secs * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*s = secondsValue(d)
	return nil
}

func (s *secondsValue) Type() string { return "duration" }
