package tasks

import "testing"

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2024-02-28 ")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if d != "2024-02-28" {
		t.Fatalf("ParseDate() = %q", d)
	}
	if got := d.AddDays(2); got != "2024-03-01" {
		t.Fatalf("AddDays(2) = %q, want 2024-03-01", got)
	}

	empty, err := ParseDate("")
	if err != nil || !empty.IsZero() {
		t.Fatalf("ParseDate(\"\") = %q, %v; want zero date", empty, err)
	}
	if _, err := ParseDate("2024/02/28"); err == nil {
		t.Fatalf("ParseDate() expected error for bad layout")
	}
}

func TestDateWindowContains(t *testing.T) {
	w := DateWindow{From: "2024-05-01", To: "2024-05-04"}
	cases := map[Date]bool{
		"":           false,
		"2024-04-30": false,
		"2024-05-01": true,
		"2024-05-04": true,
		"2024-05-05": false,
	}
	for d, want := range cases {
		if got := w.Contains(d); got != want {
			t.Fatalf("Contains(%q) = %v, want %v", d, got, want)
		}
	}
}
