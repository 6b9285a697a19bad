package pattern

import (
	"errors"
	"reflect"
	"testing"
)

func TestDefault_ListOrder(t *testing.T) {
	views := Default().List()
	if len(views) != 8 {
		t.Fatalf("len(List()) = %d, want 8", len(views))
	}
	for i, v := range views {
		if v.ID != i {
			t.Errorf("views[%d].ID = %d, want %d", i, v.ID, i)
		}
		if !reflect.DeepEqual(v.Colors, v.OriginalColors) {
			t.Errorf("pattern %d: colors %v differ from baseline %v", v.ID, v.Colors, v.OriginalColors)
		}
	}
	if views[0].Name != "Cozy Fire" {
		t.Errorf("first pattern = %q, want Cozy Fire", views[0].Name)
	}
}

func TestVariantFor(t *testing.T) {
	tests := []struct {
		id   int
		want Variant
	}{
		{0, VariantFlame},
		{1, VariantStreak},
		{2, VariantSpectrum},
		{3, VariantSparkle},
		{4, VariantWave},
		{7, VariantWave},
		{42, VariantWave},
	}
	for _, tt := range tests {
		if got := VariantFor(tt.id); got != tt.want {
			t.Errorf("VariantFor(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestCatalog_EditAndReset(t *testing.T) {
	c := Default()
	before, _ := c.Get(5)

	edited := []Color{"#ffffff", "#000080"}
	if err := c.SetColors(5, edited); err != nil {
		t.Fatalf("SetColors() error = %v", err)
	}
	// Mutating the caller's slice must not leak into the catalog
	edited[0] = "#123456"

	got, _ := c.Colors(5)
	if !reflect.DeepEqual(got, []Color{"#ffffff", "#000080"}) {
		t.Errorf("Colors(5) = %v after edit", got)
	}

	// Other patterns are untouched
	other, _ := c.Get(4)
	if !reflect.DeepEqual(other.Colors, other.OriginalColors) {
		t.Errorf("pattern 4 changed by edit of pattern 5: %v", other.Colors)
	}

	if err := c.ResetColors(5); err != nil {
		t.Fatalf("ResetColors() error = %v", err)
	}
	after, _ := c.Get(5)
	if !reflect.DeepEqual(after.Colors, before.OriginalColors) {
		t.Errorf("after reset colors = %v, want %v", after.Colors, before.OriginalColors)
	}
	if !reflect.DeepEqual(after.OriginalColors, before.OriginalColors) {
		t.Errorf("baseline mutated: %v, want %v", after.OriginalColors, before.OriginalColors)
	}
}

func TestCatalog_ResetIsIndependentCopy(t *testing.T) {
	c := Default()
	if err := c.ResetColors(0); err != nil {
		t.Fatal(err)
	}
	if err := c.SetColor(0, 0, "#000000"); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	v, _ := c.Get(0)
	if v.OriginalColors[0] != "#ff4500" {
		t.Errorf("baseline changed through working palette: %v", v.OriginalColors)
	}
}

func TestCatalog_ViewsAreCopies(t *testing.T) {
	c := Default()
	v, _ := c.Get(2)
	v.Colors[0] = "#000000"
	v.OriginalColors[0] = "#000000"

	again, _ := c.Get(2)
	if again.Colors[0] != "#ff0000" || again.OriginalColors[0] != "#ff0000" {
		t.Errorf("catalog mutated through view: %+v", again)
	}
}

func TestCatalog_Errors(t *testing.T) {
	c := Default()
	if err := c.SetColors(99, []Color{"#ffffff"}); !errors.Is(err, ErrUnknownPattern) {
		t.Errorf("SetColors(99) error = %v, want ErrUnknownPattern", err)
	}
	if err := c.ResetColors(99); !errors.Is(err, ErrUnknownPattern) {
		t.Errorf("ResetColors(99) error = %v, want ErrUnknownPattern", err)
	}
	if err := c.SetColors(0, nil); !errors.Is(err, ErrEmptyPalette) {
		t.Errorf("SetColors(empty) error = %v, want ErrEmptyPalette", err)
	}
	if err := c.SetColor(0, 3, "#ffffff"); err == nil {
		t.Error("SetColor out of range should fail")
	}
}

func TestCatalog_RegisterKeepsOrder(t *testing.T) {
	c := NewCatalog(
		NewDefinition(10, "B", "", VariantWave, []Color{"#ffffff"}),
		NewDefinition(2, "A", "", VariantWave, []Color{"#000000"}),
	)
	first, ok := c.First()
	if !ok || first.ID != 2 {
		t.Errorf("First() = %+v, want id 2", first)
	}

	c.Unregister(2)
	first, _ = c.First()
	if first.ID != 10 {
		t.Errorf("First() after unregister = %d, want 10", first.ID)
	}
	if c.Has(2) {
		t.Error("Has(2) after unregister")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    Color
		wantErr bool
	}{
		{"#FF4500", "#ff4500", false},
		{"00ff00", "#00ff00", false},
		{" #0000ff ", "#0000ff", false},
		{"#fff", "#ffffff", false},
		{"red", "", true},
		{"#12345", "", true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
