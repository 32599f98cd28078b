package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/chime/internal/domain/event"
	"github.com/geocoder89/chime/internal/domain/user"
)

// deliveryTimes is the per-event-type local wall-clock delivery table.
var deliveryTimes = map[event.Type]struct{ Hour, Minute int }{
	event.TypeBirthday: {Hour: 9, Minute: 0},
}

// Occurrence is one computed firing: the UTC instant plus the wall-clock
// rendering the instant was derived from.
type Occurrence struct {
	UTC   time.Time
	Local time.Time
	Zone  string
}

// Service computes the next delivery instant for an event type. The
// delivery-time override is process-wide configuration resolved once at
// construction; it is never read from a global.
type Service struct {
	override *Override
	log      *slog.Logger
}

func NewService(overrideRaw string, log *slog.Logger) *Service {
	s := &Service{log: log}

	if overrideRaw == "" {
		return s
	}

	ov, err := ParseOverride(overrideRaw)
	if err != nil {
		// malformed override falls back to the default table
		if log != nil {
			log.Warn("schedule.override.invalid", "raw", overrideRaw, "err", err)
		}
		return s
	}

	s.override = &ov
	if log != nil {
		log.Info("schedule.override.active", "offset", ov.Offset.String())
	}
	return s
}

// Next returns the smallest instant at or after ref whose wall-clock
// representation in the user's zone is the birthday (month, day) at the
// configured delivery time.
//
// Leap-day policy: February 29 birthdays fall on March 1 in non-leap years.
// DST policy: a delivery time swallowed by spring-forward advances to the
// next valid instant; a repeated fall-back time resolves to its first
// occurrence. Both follow from time.Date normalization in the zone.
func (s *Service) Next(t event.Type, dob user.Date, zone string, ref time.Time) (Occurrence, error) {
	if s.override != nil {
		utc := ref.UTC().Add(s.override.Offset)

		loc, err := time.LoadLocation(zone)
		if err != nil {
			return Occurrence{}, fmt.Errorf("load zone %q: %w", zone, err)
		}
		return Occurrence{UTC: utc, Local: utc.In(loc), Zone: zone}, nil
	}

	at, ok := deliveryTimes[t]
	if !ok {
		return Occurrence{}, fmt.Errorf("no delivery time for event type %q", t)
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Occurrence{}, fmt.Errorf("load zone %q: %w", zone, err)
	}

	year := ref.In(loc).Year()

	for i := 0; i < 2; i++ {
		local := occurrenceInYear(year+i, dob, at.Hour, at.Minute, loc)

		if !local.Before(ref) {
			return Occurrence{UTC: local.UTC(), Local: local, Zone: zone}, nil
		}
	}

	// unreachable: the candidate one calendar year out is always >= ref
	return Occurrence{}, fmt.Errorf("no occurrence found for %s in %s after %s", dob, zone, ref)
}

func occurrenceInYear(year int, dob user.Date, hour, minute int, loc *time.Location) time.Time {
	month, day := dob.Month, dob.Day

	if month == time.February && day == 29 && !isLeapYear(year) {
		month, day = time.March, 1
	}

	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
