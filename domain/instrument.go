// Package domain holds the shared data model: instruments, ticks, chains,
// Greeks, bias state, and trades. Every other package depends on domain;
// domain depends on nothing in this module.
package domain

import (
	"fmt"
	"time"
)

// OptionType distinguishes call and put legs.
type OptionType string

const (
	CE OptionType = "CE"
	PE OptionType = "PE"
)

// Instrument identifies a single option contract. Identity is the full tuple;
// two Instrument values with equal fields refer to the same contract.
type Instrument struct {
	Underlying string
	Expiry     time.Time
	Strike     int
	Type       OptionType
}

// Key returns a stable string suitable for map keys and log fields.
func (i Instrument) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s", i.Underlying, i.Expiry.Format("2006-01-02"), i.Strike, i.Type)
}

func (i Instrument) String() string { return i.Key() }
