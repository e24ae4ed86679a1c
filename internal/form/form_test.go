package form

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12", 12, false},
		{" 12.5 ", 12.5, false},
		{"12,5", 12.5, false},
		{"-3", -3, false},
		{"1,000.5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseNumber(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNumber(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValues(t *testing.T) {
	v := FromURL(url.Values{"width": {"40"}, "name": {"  x  "}, "blank": {" "}, "show": {"on"}})

	if v.Get("name") != "x" {
		t.Errorf("Get(name) = %q", v.Get("name"))
	}
	if v.Has("blank") {
		t.Error("Has(blank) = true")
	}
	if !v.Checked("show") {
		t.Error("Checked(show) = false")
	}

	f, ok, err := v.Number("width")
	if err != nil || !ok || f != 40 {
		t.Errorf("Number(width) = %v, %v, %v", f, ok, err)
	}
	if _, ok, err := v.Number("missing"); ok || err != nil {
		t.Errorf("Number(missing) = %v, %v", ok, err)
	}
	if _, _, err := (Values{"w": "wide"}).Number("w"); !errors.Is(err, ErrNotANumber) {
		t.Errorf("Number(wide) error = %v", err)
	}
}

func TestErrors(t *testing.T) {
	e := Errors{}
	if e.Err() != nil {
		t.Fatal("empty Errors should be nil error")
	}
	e.Add("posx", "first")
	e.Add("posx", "second")
	e.Merge(Errors{"width": "bad"})

	if e["posx"] != "first" {
		t.Errorf("posx = %q, want first", e["posx"])
	}
	if got := e.Err().Error(); got != "invalid form: posx: first; width: bad" {
		t.Errorf("Error() = %q", got)
	}
}
