package form

import "testing"

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   bool
		wantOK bool
	}{
		{"bool true", true, true, true},
		{"bool false", false, false, true},
		{"string true", "true", true, true},
		{"string yes", "yes", true, true},
		{"string y", "y", true, true},
		{"string on", "on", true, true},
		{"string one", "1", true, true},
		{"mixed case", "YES", true, true},
		{"padded", "  True  ", true, true},
		{"string false", "false", false, true},
		{"string no", "no", false, true},
		{"string n", "n", false, true},
		{"string off", "off", false, true},
		{"string zero", "0", false, true},
		{"empty string", "", false, true},
		{"nil", nil, false, true},
		{"int one", 1, true, true},
		{"int zero", 0, false, true},
		{"json number one", float64(1), true, true},
		{"json number zero", float64(0), false, true},
		{"unrecognized string", "maybe", false, false},
		{"unrecognized number", 2, false, false},
		{"unrecognized type", []string{"yes"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceBool(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("CoerceBool(%#v) = (%v, %v), want (%v, %v)",
					tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// The projections must agree with CoerceBool for every recognized value,
// never re-deciding truthiness on their own.
func TestProjectionsAgreeWithCoerceBool(t *testing.T) {
	values := []any{
		true, false, "true", "false", "yes", "no", "y", "n",
		"on", "off", "1", "0", "", nil, 1, 0, float64(1), float64(0),
		"maybe", 7,
	}

	for _, v := range values {
		value, ok := CoerceBool(v)
		truthy := ok && value

		wantYesNo := "No"
		wantZeroOne := 0
		if truthy {
			wantYesNo = "Yes"
			wantZeroOne = 1
		}

		if got := YesNo(v); got != wantYesNo {
			t.Errorf("YesNo(%#v) = %q, want %q", v, got, wantYesNo)
		}
		if got := ZeroOne(v); got != wantZeroOne {
			t.Errorf("ZeroOne(%#v) = %d, want %d", v, got, wantZeroOne)
		}
	}
}
