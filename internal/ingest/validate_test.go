package ingest

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/lox/skyscribe/internal/models"
)

func TestValidateSample(t *testing.T) {
	ts := time.Date(2023, 11, 12, 18, 2, 0, 0, time.UTC)
	tests := []struct {
		name      string
		fields    map[string]float64
		wantFlags []string
	}{
		{
			name: "valid sample - no flags",
			fields: map[string]float64{
				"temp_c":             21.5,
				"humidity":           60,
				"wind_direction_deg": 180,
				"wind_max_meter_sec": 12,
				"wind_avg_meter_sec": 4,
				"rain_mm":            0,
				"battery_ok":         1,
			},
			wantFlags: nil,
		},
		{
			name:      "temp too cold",
			fields:    map[string]float64{"temp_c": -45},
			wantFlags: []string{FlagTempOutOfRange},
		},
		{
			name:      "board temp too hot",
			fields:    map[string]float64{"temp_mp1": 75},
			wantFlags: []string{FlagTempOutOfRange},
		},
		{
			name:      "both temps out of range flag once",
			fields:    map[string]float64{"temp_c": 90, "temp_mp1": 90},
			wantFlags: []string{FlagTempOutOfRange},
		},
		{
			name:      "temp at boundary - valid",
			fields:    map[string]float64{"temp_c": 60},
			wantFlags: nil,
		},
		{
			name:      "humidity over 100",
			fields:    map[string]float64{"humidity": 105},
			wantFlags: []string{FlagHumidityInvalid},
		},
		{
			name:      "wind direction over 360",
			fields:    map[string]float64{"wind_direction_deg": 400},
			wantFlags: []string{FlagWindDirInvalid},
		},
		{
			name:      "gust negative",
			fields:    map[string]float64{"wind_max_meter_sec": -1},
			wantFlags: []string{FlagWindSpeedUnlikely},
		},
		{
			name:      "rain negative",
			fields:    map[string]float64{"rain_mm": -0.2},
			wantFlags: []string{FlagRainNegative},
		},
		{
			name:      "battery not boolean",
			fields:    map[string]float64{"battery_ok": 0.5},
			wantFlags: []string{FlagBatteryInvalid},
		},
		{
			name:      "multiple flags - temp and humidity",
			fields:    map[string]float64{"temp_c": 70, "humidity": 150},
			wantFlags: []string{FlagTempOutOfRange, FlagHumidityInvalid},
		},
		{
			name:      "absent fields - no flags",
			fields:    map[string]float64{"rssi": -90},
			wantFlags: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateSample(models.NewSample(ts, tt.fields))
			sort.Strings(got)
			want := append([]string(nil), tt.wantFlags...)
			sort.Strings(want)
			if len(got) != len(want) {
				t.Errorf("ValidateSample() = %v, want %v", got, want)
				return
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("ValidateSample() = %v, want %v", got, want)
					return
				}
			}
		})
	}
}

func TestQualityFlagsToJSON(t *testing.T) {
	if got := QualityFlagsToJSON(nil); got != "" {
		t.Errorf("QualityFlagsToJSON(nil) = %q, want empty", got)
	}

	got := QualityFlagsToJSON([]string{FlagTempOutOfRange, FlagRainNegative})
	var parsed []string
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(parsed) != 2 || parsed[0] != FlagTempOutOfRange || parsed[1] != FlagRainNegative {
		t.Errorf("QualityFlagsToJSON() parsed = %v", parsed)
	}
}
