package chrono

import "time"

// DefaultZone is the zone run directories are dated in.
const DefaultZone = "America/New_York"

type API interface {
	Now() time.Time
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

func NewStandardImpl(zone string) (StandardImpl, error) {
	if zone == "" {
		zone = DefaultZone
	}
	location, err := time.LoadLocation(zone)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// FixedImpl always returns the same instant, used in tests.
type FixedImpl struct {
	At time.Time
}

func (f FixedImpl) Now() time.Time {
	return f.At
}

func (f FixedImpl) Location() *time.Location {
	return f.At.Location()
}

// RunDate formats the calendar date of now in the clock's zone as YYYY-MM-DD.
func RunDate(c API) string {
	return c.Now().In(c.Location()).Format(time.DateOnly)
}
