package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `ts,email,project_id,pin,pintype,doublevalue,stringvalue
2023-11-12T18:02:05Z,a@b.c,1,5,VIRTUAL,10,
2023-11-12T18:02:35Z,a@b.c,1,5,VIRTUAL,12,
2023-11-12T18:02:40Z,a@b.c,1,6,VIRTUAL,0,
2023-11-12T18:02:50Z,a@b.c,1,30,VIRTUAL,99,
2023-11-12T18:03:10Z,a@b.c,1,V5,VIRTUAL,0,
2023-11-12T18:03:20Z,a@b.c,1,6,VIRTUAL,80,
2023-11-12T18:03:30Z,a@b.c,1,6,VIRTUAL,,online
2023-11-12T18:05:00Z,a@b.c,1,42,VIRTUAL,3,
`

func TestParseBlynk(t *testing.T) {
	rows, read, err := ParseBlynk(strings.NewReader(sampleExport))
	require.NoError(t, err)
	assert.Equal(t, 8, read)
	require.Len(t, rows, 7, "string reading skipped")

	assert.Equal(t, Row{TS: time.Date(2023, 11, 12, 18, 2, 5, 0, time.UTC), Pin: 5, Value: 10}, rows[0])
	assert.Equal(t, 5, rows[4].Pin, "V prefix stripped")
	assert.Equal(t, 42, rows[6].Pin)
}

func TestParseBlynkTimestampFormats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2023-11-12T18:02:05.123Z", time.Date(2023, 11, 12, 18, 2, 5, 123000000, time.UTC)},
		{"2023-11-12T19:02:05+01:00", time.Date(2023, 11, 12, 18, 2, 5, 0, time.UTC)},
		{"2023-11-12 18:02:05", time.Date(2023, 11, 12, 18, 2, 5, 0, time.UTC)},
		{"2023-11-12T18:02:05", time.Date(2023, 11, 12, 18, 2, 5, 0, time.UTC)},
		{"1699812125000", time.Date(2023, 11, 12, 18, 2, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTS(tt.in)
			if err != nil {
				t.Fatalf("parseTS(%q) error: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTS(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseBlynkMalformed(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"missing pin column", "ts,doublevalue\n2023-11-12T18:02:05Z,1\n"},
		{"bad timestamp", "ts,pin,doublevalue\nyesterday,5,1\n"},
		{"bad pin", "ts,pin,doublevalue\n2023-11-12T18:02:05Z,five,1\n"},
		{"bad value", "ts,pin,doublevalue\n2023-11-12T18:02:05Z,5,warm\n"},
		{"short row", "ts,pin,doublevalue\n2023-11-12T18:02:05Z,5\n"},
		{"empty input", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseBlynk(strings.NewReader(tt.csv))
			if !errors.Is(err, ErrMalformedCSV) {
				t.Errorf("ParseBlynk() error = %v, want ErrMalformedCSV", err)
			}
		})
	}
}

func TestPivotMinute(t *testing.T) {
	rows, _, err := ParseBlynk(strings.NewReader(sampleExport))
	require.NoError(t, err)

	samples := Pivot(rows, Minute, false)
	require.Len(t, samples, 3)

	first := samples[0]
	assert.Equal(t, time.Date(2023, 11, 12, 18, 2, 0, 0, time.UTC), first.Timestamp())
	assert.Equal(t, []string{"humidity", "pin_42", "temp_c"}, first.Names(), "every pin becomes a field, housekeeping pin dropped")
	v, _ := first.Value("temp_c")
	assert.Equal(t, 11.0, v, "mean of non-zero readings")
	v, _ = first.Value("humidity")
	assert.Equal(t, 0.0, v, "only zero readings")

	second := samples[1]
	assert.Equal(t, time.Date(2023, 11, 12, 18, 3, 0, 0, time.UTC), second.Timestamp())
	v, _ = second.Value("temp_c")
	assert.Equal(t, 0.0, v)
	v, _ = second.Value("humidity")
	assert.Equal(t, 80.0, v)

	third := samples[2]
	assert.Equal(t, time.Date(2023, 11, 12, 18, 5, 0, 0, time.UTC), third.Timestamp())
	v, _ = third.Value("pin_42")
	assert.Equal(t, 3.0, v)
}

func TestPivotFillGaps(t *testing.T) {
	rows, _, err := ParseBlynk(strings.NewReader(sampleExport))
	require.NoError(t, err)

	samples := Pivot(rows, Minute, true)
	require.Len(t, samples, 4)
	gap := samples[2]
	assert.Equal(t, time.Date(2023, 11, 12, 18, 4, 0, 0, time.UTC), gap.Timestamp())
	for _, name := range gap.Names() {
		v, _ := gap.Value(name)
		assert.Zero(t, v, name)
	}
}

func TestPivotHour(t *testing.T) {
	rows, _, err := ParseBlynk(strings.NewReader(sampleExport))
	require.NoError(t, err)

	samples := Pivot(rows, Hour, false)
	require.Len(t, samples, 1)
	assert.Equal(t, time.Date(2023, 11, 12, 18, 0, 0, 0, time.UTC), samples[0].Timestamp())
	v, _ := samples[0].Value("temp_c")
	assert.Equal(t, 11.0, v)
}

func TestPivotEmpty(t *testing.T) {
	assert.Nil(t, Pivot(nil, Minute, true))
	assert.Nil(t, Pivot([]Row{{TS: time.Now(), Pin: housekeepingPin, Value: 1}}, Minute, false))
}

func TestFieldNameAndFrequency(t *testing.T) {
	assert.Equal(t, "temp_c", FieldName(5))
	assert.Equal(t, "mA_solar", FieldName(21))
	assert.Equal(t, "pin_22", FieldName(22))

	f, err := ParseFrequency("H")
	require.NoError(t, err)
	assert.Equal(t, Hour, f)
	f, err = ParseFrequency("")
	require.NoError(t, err)
	assert.Equal(t, Minute, f)
	_, err = ParseFrequency("weekly")
	assert.Error(t, err)
}
