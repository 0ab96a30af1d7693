package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/skyscribe/internal/models"
)

// ErrMalformedCSV is returned when an export lacks a required column or a
// row cannot be parsed.
var ErrMalformedCSV = errors.New("malformed blynk export")

// Blynk appends housekeeping rows on this pin; they are never measurements.
const housekeepingPin = 30

// PinFields maps Blynk virtual pins to station field names.
var PinFields = map[int]string{
	1:  "lightning_distance_km",
	2:  "lightning_unknown1",
	3:  "lightning_unknown2",
	4:  "water_leakage_alarm",
	5:  "temp_c",
	6:  "humidity",
	7:  "wind_max_meter_sec",
	8:  "wind_avg_meter_sec",
	9:  "wind_direction_deg",
	10: "rain_mm",
	11: "moisture",
	12: "sensor_id",
	13: "s_type",
	14: "battery_ok",
	15: "rssi",
	16: "temp_mp1",
	17: "pressure_mp1",
	18: "altitude_mpl",
	19: "voltage_battery",
	20: "mA_battery",
	21: "mA_solar",
}

// FieldName is the station field a pin's values are stored under.
func FieldName(pin int) string {
	if name, ok := PinFields[pin]; ok {
		return name
	}
	return "pin_" + strconv.Itoa(pin)
}

// Frequency is the bucket width samples are resampled to.
type Frequency time.Duration

const (
	Minute = Frequency(time.Minute)
	Hour   = Frequency(time.Hour)
)

// ParseFrequency accepts "m"/"minute" and "h"/"hour".
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "m", "min", "minute":
		return Minute, nil
	case "h", "hour":
		return Hour, nil
	}
	return 0, fmt.Errorf("unknown frequency %q", s)
}

func (f Frequency) String() string {
	if f == Hour {
		return "h"
	}
	return "m"
}

// Row is one pin reading from a Blynk export.
type Row struct {
	TS    time.Time
	Pin   int
	Value float64
}

var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTS(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range tsLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	// Some exports carry epoch milliseconds.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedCSV, s)
}

func parsePin(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "V"), "v")
	pin, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: pin %q", ErrMalformedCSV, s)
	}
	return pin, nil
}

// ParseBlynk reads a Blynk CSV export. Rows with an empty doublevalue are
// string readings and are skipped; the returned count is every data row
// read.
func ParseBlynk(r io.Reader) ([]Row, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read header: %v", ErrMalformedCSV, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	tsCol, okTS := col["ts"]
	pinCol, okPin := col["pin"]
	valCol, okVal := col["doublevalue"]
	if !okTS || !okPin || !okVal {
		return nil, 0, fmt.Errorf("%w: need ts, pin and doublevalue columns, got %v", ErrMalformedCSV, header)
	}
	width := max(tsCol, pinCol, valCol) + 1

	var rows []Row
	read := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, read, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
		}
		read++
		if len(rec) < width {
			return nil, read, fmt.Errorf("%w: line %d has %d columns", ErrMalformedCSV, read+1, len(rec))
		}
		raw := strings.TrimSpace(rec[valCol])
		if raw == "" {
			continue
		}
		ts, err := parseTS(rec[tsCol])
		if err != nil {
			return nil, read, err
		}
		pin, err := parsePin(rec[pinCol])
		if err != nil {
			return nil, read, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, read, fmt.Errorf("%w: value %q", ErrMalformedCSV, raw)
		}
		rows = append(rows, Row{TS: ts, Pin: pin, Value: v})
	}
	return rows, read, nil
}

type accum struct {
	sum float64
	n   int
}

// Pivot turns pin readings into one sample per bucket. Each field is the
// mean of the pin's non-zero readings in the bucket, or 0 when it has
// none. Every pin seen in the export becomes a field of every sample.
// With fillGaps, buckets between the first and last that hold no rows are
// emitted with all fields 0.
func Pivot(rows []Row, freq Frequency, fillGaps bool) []models.Sample {
	width := time.Duration(freq)
	if width <= 0 {
		width = time.Minute
	}

	pins := make(map[int]bool)
	buckets := make(map[time.Time]map[int]*accum)
	for _, r := range rows {
		if r.Pin == housekeepingPin {
			continue
		}
		pins[r.Pin] = true
		key := r.TS.UTC().Truncate(width)
		b, ok := buckets[key]
		if !ok {
			b = make(map[int]*accum)
			buckets[key] = b
		}
		a, ok := b[r.Pin]
		if !ok {
			a = &accum{}
			b[r.Pin] = a
		}
		if r.Value != 0 {
			a.sum += r.Value
			a.n++
		}
	}
	if len(buckets) == 0 {
		return nil
	}

	keys := make([]time.Time, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	if fillGaps {
		keys = keys[:0]
		first, last := minMaxKey(buckets)
		for t := first; !t.After(last); t = t.Add(width) {
			keys = append(keys, t)
		}
	}

	samples := make([]models.Sample, 0, len(keys))
	for _, k := range keys {
		fields := make(map[string]float64, len(pins))
		b := buckets[k]
		for pin := range pins {
			v := 0.0
			if a, ok := b[pin]; ok && a.n > 0 {
				v = a.sum / float64(a.n)
			}
			fields[FieldName(pin)] = v
		}
		samples = append(samples, models.NewSample(k, fields))
	}
	return samples
}

func minMaxKey(buckets map[time.Time]map[int]*accum) (time.Time, time.Time) {
	var first, last time.Time
	for k := range buckets {
		if first.IsZero() || k.Before(first) {
			first = k
		}
		if k.After(last) {
			last = k
		}
	}
	return first, last
}
