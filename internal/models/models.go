package models

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TimestampField is the name of the key field every sample carries.
const TimestampField = "ts"

// TimeLayout is the wire format for sample timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// DefaultFields is the field set of a standard station, in column order.
var DefaultFields = []string{
	"temp_c",
	"humidity",
	"wind_max_meter_sec",
	"wind_avg_meter_sec",
	"wind_direction_deg",
	"rain_mm",
	"battery_ok",
	"rssi",
	"temp_mp1",
	"pressure_mp1",
	"altitude_mpl",
	"voltage_battery",
	"mA_battery",
	"mA_solar",
}

type Station struct {
	ID       int64    `json:"id"`
	Location string   `json:"location"`
	Fields   []string `json:"fields"` // known fields in natural column order
}

// HasField reports whether name is part of the station's known field set.
func (s Station) HasField(name string) bool {
	return slices.Contains(s.Fields, name)
}

func (s Station) String() string {
	return fmt.Sprintf("Weather station | ID: %d | City: %s", s.ID, s.Location)
}

// NormalizeLocation title-cases a location name the way stations are stored.
func NormalizeLocation(loc string) string {
	return cases.Title(language.Und).String(strings.Join(strings.Fields(loc), " "))
}

// Sample is one timestamped measurement. It is immutable: every method that
// changes a value returns a new Sample.
type Sample struct {
	ts     time.Time
	fields map[string]float64
}

// TruncateTimestamp reduces t to the minute resolution samples are keyed on.
func TruncateTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

func NewSample(ts time.Time, fields map[string]float64) Sample {
	cp := make(map[string]float64, len(fields))
	for k, v := range fields {
		if k == TimestampField {
			continue
		}
		cp[k] = v
	}
	return Sample{ts: TruncateTimestamp(ts), fields: cp}
}

func (s Sample) Timestamp() time.Time { return s.ts }

func (s Sample) IsZero() bool { return s.ts.IsZero() && len(s.fields) == 0 }

func (s Sample) Value(name string) (float64, bool) {
	v, ok := s.fields[name]
	return v, ok
}

// Fields returns a copy of the sample's field values.
func (s Sample) Fields() map[string]float64 {
	cp := make(map[string]float64, len(s.fields))
	for k, v := range s.fields {
		cp[k] = v
	}
	return cp
}

// Names returns the sample's field names in sorted order.
func (s Sample) Names() []string {
	names := make([]string, 0, len(s.fields))
	for k := range s.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s Sample) With(name string, v float64) Sample {
	fields := s.Fields()
	fields[name] = v
	return Sample{ts: s.ts, fields: fields}
}

func (s Sample) WithTimestamp(ts time.Time) Sample {
	return Sample{ts: TruncateTimestamp(ts), fields: s.Fields()}
}

// Project keeps only the named fields. A nil slice keeps everything; the
// timestamp is always kept.
func (s Sample) Project(names []string) Sample {
	if names == nil {
		return s
	}
	fields := make(map[string]float64, len(names))
	for _, n := range names {
		if v, ok := s.fields[n]; ok {
			fields[n] = v
		}
	}
	return Sample{ts: s.ts, fields: fields}
}

func (s Sample) Equal(o Sample) bool {
	if !s.ts.Equal(o.ts) || len(s.fields) != len(o.fields) {
		return false
	}
	for k, v := range s.fields {
		if ov, ok := o.fields[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (s Sample) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Measurement of %s", s.ts.Format(TimeLayout))
	if len(s.fields) == 0 {
		b.WriteString(" no measurement")
	}
	for _, n := range s.Names() {
		fmt.Fprintf(&b, " | %s : %v", n, s.fields[n])
	}
	return b.String()
}

func (s Sample) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.fields)+1)
	for k, v := range s.fields {
		m[k] = v
	}
	m[TimestampField] = s.ts.Format(TimeLayout)
	return json.Marshal(m)
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ts time.Time
	fields := make(map[string]float64, len(raw))
	for k, v := range raw {
		if k == TimestampField {
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				return fmt.Errorf("decode %s: %w", TimestampField, err)
			}
			t, err := time.Parse(TimeLayout, str)
			if err != nil {
				return fmt.Errorf("parse %s: %w", TimestampField, err)
			}
			ts = t
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		fields[k] = f
	}
	*s = NewSample(ts, fields)
	return nil
}

// ParseTimestamp parses a sample timestamp in TimeLayout as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return TruncateTimestamp(t), nil
}
