package storage

import "testing"

func TestReportObjectPath(t *testing.T) {
	cases := []struct {
		prefix string
		name   string
		want   string
	}{
		{prefix: "reports", name: "catalog-integrity-20260301T040000Z.json", want: "reports/catalog-integrity-20260301T040000Z.json"},
		{prefix: "/reports/catalog/", name: " scan.json ", want: "reports/catalog/scan.json"},
		{prefix: "", name: "scan.json", want: "scan.json"},
	}
	for _, tc := range cases {
		got, err := ReportObjectPath(tc.prefix, tc.name)
		if err != nil {
			t.Fatalf("ReportObjectPath(%q, %q): %v", tc.prefix, tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("ReportObjectPath(%q, %q) = %q, want %q", tc.prefix, tc.name, got, tc.want)
		}
	}
}

func TestReportObjectPathRejectsInvalidNames(t *testing.T) {
	for _, name := range []string{"", "../escape.json", "nested/scan.json", "scan.txt"} {
		if _, err := ReportObjectPath("reports", name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
	if _, err := ReportObjectPath("../up", "scan.json"); err == nil {
		t.Fatalf("expected error for traversal prefix")
	}
}

func TestNewReportWriterValidates(t *testing.T) {
	if _, err := NewReportWriter(nil, "bucket"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
