package schedule

import (
	"fmt"
	"strconv"
	"time"
)

// Override shifts every computed occurrence to "now + offset". Intended for
// test environments only; accepted formats are "Ns" and "Nm".
type Override struct {
	Offset time.Duration
}

func ParseOverride(raw string) (Override, error) {
	if len(raw) < 2 {
		return Override{}, fmt.Errorf("override %q: too short", raw)
	}

	unit := raw[len(raw)-1]
	num, err := strconv.Atoi(raw[:len(raw)-1])

	if err != nil || num < 0 {
		return Override{}, fmt.Errorf("override %q: not a positive number with unit", raw)
	}

	switch unit {
	case 's':
		return Override{Offset: time.Duration(num) * time.Second}, nil
	case 'm':
		return Override{Offset: time.Duration(num) * time.Minute}, nil
	default:
		return Override{}, fmt.Errorf("override %q: unit must be s or m", raw)
	}
}
