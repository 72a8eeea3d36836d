package domain

import (
	"math"
	"sort"
	"time"
)

// HourlyRecord is one station-hour of converted observations. Fields absent
// from the raw row hold NaN until [FillMissing] substitutes the EPW missing
// markers.
type HourlyRecord struct {
	Time time.Time // end of the observation interval

	WindDir        float64 // degrees, 0 = north
	WindSpeed      float64 // m/s
	Temp           float64 // °C
	DewPoint       float64 // °C
	PrecipDuration float64 // hours
	Precipitation  float64 // mm
	Pressure       float64 // Pa
	Visibility     float64 // km
	CloudCover     float64 // tenths
	Humidity       float64 // percent
	RainFlag       float64 // EPW present-weather observation code
	GHI            float64 // global horizontal irradiance, W/m²
	DNI            float64 // direct normal irradiance, W/m²
	DHI            float64 // diffuse horizontal irradiance, W/m²
}

// EPW missing markers, substituted by FillMissing.
const (
	MissingWindDir    = 999
	MissingWindSpeed  = 999
	MissingTemp       = 99.9
	MissingDewPoint   = 99.9
	MissingPressure   = 999999
	MissingVisibility = 9999
	MissingCloudCover = 99
	MissingHumidity   = 999
	MissingRainFlag   = 9
)

// FillMissing replaces NaN fields with the EPW missing markers. Precipitation
// fields and irradiance default to zero rather than a marker because EPW
// consumers treat them as accumulations.
func FillMissing(rec HourlyRecord) HourlyRecord {
	rec.WindDir = orDefault(rec.WindDir, MissingWindDir)
	rec.WindSpeed = orDefault(rec.WindSpeed, MissingWindSpeed)
	rec.Temp = orDefault(rec.Temp, MissingTemp)
	rec.DewPoint = orDefault(rec.DewPoint, MissingDewPoint)
	rec.PrecipDuration = orDefault(rec.PrecipDuration, 0)
	rec.Precipitation = orDefault(rec.Precipitation, 0)
	rec.Pressure = orDefault(rec.Pressure, MissingPressure)
	rec.Visibility = orDefault(rec.Visibility, MissingVisibility)
	rec.CloudCover = orDefault(rec.CloudCover, MissingCloudCover)
	rec.Humidity = orDefault(rec.Humidity, MissingHumidity)
	rec.RainFlag = orDefault(rec.RainFlag, MissingRainFlag)
	rec.GHI = orDefault(rec.GHI, 0)
	rec.DNI = orDefault(rec.DNI, 0)
	rec.DHI = orDefault(rec.DHI, 0)
	return rec
}

func orDefault(v, def float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return v
}

// SortByTime orders records chronologically in place.
func SortByTime(recs []HourlyRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Time.Before(recs[j].Time) })
}

// DropLeapDay removes February 29 records so leap years also span 8760 hours.
func DropLeapDay(recs []HourlyRecord) []HourlyRecord {
	out := recs[:0]
	for _, rec := range recs {
		if rec.Time.Month() == time.February && rec.Time.Day() == 29 {
			continue
		}
		out = append(out, rec)
	}
	return out
}
