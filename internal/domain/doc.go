// Package domain models hourly weather observations from the Royal
// Netherlands Meteorological Institute (KNMI).
//
// # Data Source
//
// Observations come from the KNMI hourly archive ("uurgeg") published at
// https://www.knmi.nl/nederland-nu/klimatologie/uurgegevens. Each archive is
// a zip holding one text file per station and decade. A file starts with
// roughly thirty comment lines describing the columns, then a header line,
// then one comma-separated row per station-hour.
//
// # Time Encoding
//
// YYYYMMDD holds the observation date and HH the hour slot. HH runs 1..24
// and marks the end of the observation interval, so HH=1 covers 00:00-01:00.
// HH=24 belongs to 00:00 of the following day; [ParseRecord] rolls it over,
// including month and year boundaries. February 29 rows are dropped by
// [DropLeapDay] so every processed year spans exactly 8760 hours.
//
// # Units
//
// Raw values are scaled integers. [ParseRecord] converts them:
//
//	Q   global radiation, J/cm² per hour → W/m²    (x10000/3600)
//	FH  hourly mean wind speed, 0.1 m/s  → m/s     (x0.1)
//	T   temperature, 0.1 °C              → °C      (x0.1)
//	TD  dew point, 0.1 °C                → °C      (x0.1)
//	DR  precipitation duration, 0.1 h    → h       (x0.1)
//	RH  hourly precipitation, 0.1 mm     → mm      (x0.1)
//	P   station pressure, 0.1 hPa        → Pa      (x10)
//	VV  visibility class                 → km      (x0.1, approximate)
//	N   cloud cover, octants             → tenths  (x10/9)
//	DD  wind direction, degrees          → degrees (unscaled)
//	U   relative humidity, %             → %       (unscaled)
//	R   rain indicator 0/1               → code    (unscaled, later inverted)
//
// # Quality Fixes
//
// [ApplyQualityFixes] normalizes converted values for EnergyPlus weather
// (EPW) output: cloud cover is rounded to a whole tenth, wind direction 360
// becomes 0, and the rain indicator is inverted to the EPW present-weather
// observation convention (0 no rain → 9, 1 rain → 0).
//
// # Missing Values
//
// Absent or unparsable raw fields hold NaN until [FillMissing] substitutes
// the EPW missing markers: DD 999, FH 999, T 99.9, TD 99.9, DR 0, RH 0,
// P 999999, VV 9999, N 99, U 999, R 9, and 0 for all irradiance channels.
package domain
