package models

import "testing"

func TestIntervalBefore(t *testing.T) {
	hepB := VaccineType{Name: "Hepatitis B", TotalDoses: 3, DoseIntervals: []int{30, 150}}
	rabies := VaccineType{Name: "Rabies", TotalDoses: 5, DoseIntervals: []int{3}}
	single := VaccineType{Name: "Flu", TotalDoses: 1}

	cases := []struct {
		name string
		vt   VaccineType
		dose int
		want int
	}{
		{"first dose has no interval", hepB, 1, 0},
		{"second dose", hepB, 2, 30},
		{"third dose", hepB, 3, 150},
		{"past listed intervals reuses last", rabies, 4, 3},
		{"no intervals listed", single, 2, 0},
		{"zero dose", hepB, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.vt.IntervalBefore(tc.dose); got != tc.want {
				t.Fatalf("IntervalBefore(%d) = %d, want %d", tc.dose, got, tc.want)
			}
		})
	}
}
