package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// durationFlag accepts Go durations or a bare number of seconds and records
// whether it was set.
type durationFlag struct {
	value time.Duration
	set   bool
}

func (f *durationFlag) String() string {
	if !f.set {
		return ""
	}
	return f.value.String()
}

func (f *durationFlag) Set(raw string) error {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil {
		f.value, f.set = time.Duration(seconds)*time.Second, true
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	f.value, f.set = d, true
	return nil
}

func (f *durationFlag) Type() string { return "duration" }
