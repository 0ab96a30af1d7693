package series

import (
	"errors"
	"testing"
	"time"

	"github.com/lox/skyscribe/internal/models"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name  string
		input map[string][]string
		want  Filter
	}{
		{"gte", map[string][]string{"temp_c": {">=10"}}, Filter{"temp_c": {{OpGTE, 10}}}},
		{"band", map[string][]string{"temp_c": {">=10", "<20"}}, Filter{"temp_c": {{OpGTE, 10}, {OpLT, 20}}}},
		{"bare value is equality", map[string][]string{"rain_mm": {"0"}}, Filter{"rain_mm": {{OpEQ, 0}}}},
		{"double equals", map[string][]string{"rain_mm": {"==1.5"}}, Filter{"rain_mm": {{OpEQ, 1.5}}}},
		{"negative", map[string][]string{"temp_c": {"<-3.5"}}, Filter{"temp_c": {{OpLT, -3.5}}}},
		{"spaces", map[string][]string{"humidity": {" > 80 "}}, Filter{"humidity": {{OpGT, 80}}}},
		{"empty", map[string][]string{}, Filter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.input)
			if err != nil {
				t.Fatalf("ParseFilter: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseFilter = %v, want %v", got, tt.want)
			}
			for field, conds := range tt.want {
				if len(got[field]) != len(conds) {
					t.Fatalf("%s: got %v, want %v", field, got[field], conds)
				}
				for i, c := range conds {
					if got[field][i] != c {
						t.Errorf("%s[%d] = %v, want %v", field, i, got[field][i], c)
					}
				}
			}
		})
	}
}

func TestParseFilterMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input map[string][]string
	}{
		{"not a number", map[string][]string{"temp_c": {">warm"}}},
		{"empty value", map[string][]string{"temp_c": {""}}},
		{"unknown operator", map[string][]string{"temp_c": {"=<5"}}},
		{"triple operator", map[string][]string{"temp_c": {">>=5"}}},
		{"timestamp field", map[string][]string{"ts": {">5"}}},
		{"nan", map[string][]string{"temp_c": {"NaN"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.input)
			if !errors.Is(err, ErrMalformedQuery) {
				t.Errorf("ParseFilter(%v) = %v, want ErrMalformedQuery", tt.input, err)
			}
		})
	}
}

func TestFilterMatch(t *testing.T) {
	s := models.NewSample(time.Now(), map[string]float64{"temp_c": 12, "humidity": 70})

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"single true", Filter{"temp_c": {{OpGT, 10}}}, true},
		{"single false", Filter{"temp_c": {{OpGT, 12}}}, false},
		{"inclusive", Filter{"temp_c": {{OpGTE, 12}, {OpLTE, 12}}}, true},
		{"anded across fields", Filter{"temp_c": {{OpEQ, 12}}, "humidity": {{OpLT, 50}}}, false},
		{"missing field", Filter{"snow": {{OpGTE, 0}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(s); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryMatchTime(t *testing.T) {
	day := time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC)
	q := Query{From: day, To: day.Add(time.Hour)}

	if !q.MatchTime(day) || !q.MatchTime(day.Add(time.Hour)) {
		t.Error("range bounds should be inclusive")
	}
	if q.MatchTime(day.Add(-time.Minute)) || q.MatchTime(day.Add(61*time.Minute)) {
		t.Error("timestamps outside the range matched")
	}
	if !(Query{}).MatchTime(day) {
		t.Error("zero query should match everything")
	}
}

func TestPatchApply(t *testing.T) {
	ts := time.Date(2023, 11, 20, 8, 30, 0, 0, time.UTC)
	s := models.NewSample(ts, map[string]float64{"temp_c": 12})

	updated := SetField("temp_c", 14).Apply(s)
	if v, _ := updated.Value("temp_c"); v != 14 {
		t.Errorf("temp_c = %v, want 14", v)
	}
	if v, _ := s.Value("temp_c"); v != 12 {
		t.Errorf("original mutated: temp_c = %v", v)
	}

	p := SetTimestamp(ts.Add(90 * time.Second))
	if !p.IsRename() {
		t.Fatal("SetTimestamp patch is not a rename")
	}
	moved := p.Apply(s)
	if want := ts.Add(time.Minute); !moved.Timestamp().Equal(want) {
		t.Errorf("renamed ts = %s, want %s", moved.Timestamp(), want)
	}
}
