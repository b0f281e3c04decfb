package services

import (
	"fmt"
	"strikefeed/interfaces"
	"time"
	_ "time/tzdata" // exchange zone must resolve on hosts without tzdata
)

// MarketClock decides the exchange session for an instant
type MarketClock struct {
	location *time.Location
	openMin  int // minutes after midnight, exchange time
	closeMin int
}

// NewMarketClock creates a clock with NYSE regular hours (09:30-16:00 America/New_York)
func NewMarketClock() *MarketClock {
	clock, err := NewMarketClockWithHours("America/New_York", 9, 30, 16, 0)
	if err != nil {
		// embedded tzdata makes this unreachable
		panic(err)
	}
	return clock
}

// NewMarketClockWithHours creates a clock for a custom zone and trading window
func NewMarketClockWithHours(zone string, openHour, openMinute, closeHour, closeMinute int) (*MarketClock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %s: %w", zone, err)
	}

	openMin := openHour*60 + openMinute
	closeMin := closeHour*60 + closeMinute
	if openMin >= closeMin {
		return nil, fmt.Errorf("open %02d:%02d must be before close %02d:%02d", openHour, openMinute, closeHour, closeMinute)
	}

	return &MarketClock{
		location: loc,
		openMin:  openMin,
		closeMin: closeMin,
	}, nil
}

// Status returns the session status at now
func (m *MarketClock) Status(now time.Time) interfaces.SessionStatus {
	local := now.In(m.location)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return interfaces.SessionClosed
	}

	minute := local.Hour()*60 + local.Minute()
	switch {
	case minute < m.openMin:
		return interfaces.SessionPreMarket
	case minute >= m.closeMin:
		return interfaces.SessionAfterHours
	default:
		return interfaces.SessionOpen
	}
}

// IsOpen reports whether regular trading is in session at now
func (m *MarketClock) IsOpen(now time.Time) bool {
	return m.Status(now) == interfaces.SessionOpen
}

// Location returns the exchange time zone
func (m *MarketClock) Location() *time.Location {
	return m.location
}
