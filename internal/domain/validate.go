package domain

import (
	"strconv"
	"strings"
)

// earliestYear is the first year with digitized KNMI hourly archives.
const earliestYear = 1950

// ValidateYear checks that year falls inside the range KNMI publishes.
// Archives for the current year appear incrementally, so one year of
// lookahead is allowed.
func ValidateYear(year int) error {
	maxYear := clock.Now().Year() + 1
	if year < earliestYear || year > maxYear {
		return Errorf(KindValidation, "validate year", strconv.Itoa(year),
			"year must be between %d and %d", earliestYear, maxYear)
	}
	return nil
}

// ValidateStationID checks the three-digit KNMI station number format.
func ValidateStationID(id string) error {
	id = strings.TrimSpace(id)
	if len(id) != 3 {
		return Errorf(KindStation, "validate station", id, "station ID must be exactly 3 digits")
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return Errorf(KindStation, "validate station", id, "station ID must be numeric")
		}
	}
	return nil
}
