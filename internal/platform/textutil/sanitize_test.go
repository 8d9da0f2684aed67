package textutil

import "testing"

func TestSanitizeDisplay(t *testing.T) {
	cases := map[string]string{
		"<b>Tea</b> box":          "Tea box",
		"  سلة   الفطور ":         "سلة الفطور",
		"Milk\n\t2L":              "Milk 2L",
		"<script>x()</script>Oat": "Oat",
		"Fish &amp; Chips":        "Fish & Chips",
	}
	for in, want := range cases {
		if got := SanitizeDisplay(in); got != want {
			t.Errorf("SanitizeDisplay(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeLocalized(t *testing.T) {
	got := SanitizeLocalized(map[string]string{"AR": " <i>خبز</i> ", "en": "", " ": "x"})
	if len(got) != 1 || got["ar"] != "خبز" {
		t.Fatalf("unexpected result %v", got)
	}
	if SanitizeLocalized(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}
