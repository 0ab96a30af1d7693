package ingest

import (
	"github.com/goccy/go-json"

	"github.com/lox/skyscribe/internal/models"
)

const (
	FlagTempOutOfRange    = "temp_out_of_range"
	FlagHumidityInvalid   = "humidity_invalid"
	FlagWindDirInvalid    = "wind_dir_invalid"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
	FlagRainNegative      = "rain_negative"
	FlagBatteryInvalid    = "battery_invalid"
)

// ValidateSample returns range flags for the fields a sample carries.
// Flagged samples are still stored; the flags feed import auditing.
func ValidateSample(s models.Sample) []string {
	var flags []string

	for _, f := range []string{"temp_c", "temp_mp1"} {
		if v, ok := s.Value(f); ok && (v < -40 || v > 60) {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	if v, ok := s.Value("humidity"); ok && (v < 0 || v > 100) {
		flags = append(flags, FlagHumidityInvalid)
	}

	if v, ok := s.Value("wind_direction_deg"); ok && (v < 0 || v > 360) {
		flags = append(flags, FlagWindDirInvalid)
	}

	for _, f := range []string{"wind_max_meter_sec", "wind_avg_meter_sec"} {
		if v, ok := s.Value(f); ok && (v < 0 || v > 100) {
			flags = append(flags, FlagWindSpeedUnlikely)
			break
		}
	}

	if v, ok := s.Value("rain_mm"); ok && v < 0 {
		flags = append(flags, FlagRainNegative)
	}

	if v, ok := s.Value("battery_ok"); ok && v != 0 && v != 1 {
		flags = append(flags, FlagBatteryInvalid)
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
