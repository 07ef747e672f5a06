package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTier is returned when a data size does not name one of the known tiers
var ErrUnknownTier = errors.New("unknown data size")

// Tier selects how much data the fixture loads
type Tier int

const (
	Small Tier = iota + 1
	Medium
	Large
)

// tierShape holds the table and record counts of a tier
type tierShape struct {
	name    string
	tables  int
	records int
}

var tierShapes = map[Tier]tierShape{
	Small:  {name: "small", tables: 1, records: 500},
	Medium: {name: "medium", tables: 3, records: 3000},
	Large:  {name: "large", tables: 5, records: 7000},
}

// ParseTier maps a DATA_SIZE value to a Tier. An empty value resolves to Medium.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small":
		return Small, nil
	case "", "medium":
		return Medium, nil
	case "large":
		return Large, nil
	default:
		return 0, fmt.Errorf("%w %q: expected small, medium or large", ErrUnknownTier, s)
	}
}

// Tables returns the number of customers tables loaded for the tier
func (t Tier) Tables() int {
	return tierShapes[t].tables
}

// Records returns the number of records requested per table for the tier
func (t Tier) Records() int {
	return tierShapes[t].records
}

func (t Tier) String() string {
	if shape, ok := tierShapes[t]; ok {
		return shape.name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}
