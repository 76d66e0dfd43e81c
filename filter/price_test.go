package filter

import "testing"

func TestValidateTotalPrice(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		name   string
		amount float64
		text   string
		want   bool
	}{
		{
			name:   "per-unit amount below floor",
			amount: 3.5,
			text:   "Predám pozemok, cena 3.5 €/m2",
			want:   false,
		},
		{
			name:   "plain total with no marker",
			amount: 185000,
			text:   "Predám pozemok, cena 185000 eur",
			want:   true,
		},
		{
			name:   "marker immediately after amount",
			amount: 350,
			text:   "výhodne, iba 350 €/m2",
			want:   false,
		},
		{
			name:   "slovak za-m2 marker",
			amount: 12500,
			text:   "cena 12 500 € za m2",
			want:   false,
		},
		{
			name:   "space-grouped amount with marker",
			amount: 185000,
			text:   "cena 185 000 eur/m²",
			want:   false,
		},
		{
			name:   "decimal comma spelling",
			amount: 7.5,
			text:   "cena 7,5 €/m2",
			want:   false, // floor check fires first, marker would too
		},
		{
			name:   "amount absent from text passes floor check alone",
			amount: 250000,
			text:   "cena v inzeráte",
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ValidateTotalPrice(tt.amount, tt.text, Criteria{})
			if got != tt.want {
				t.Errorf("ValidateTotalPrice(%v, %q) = %v, want %v", tt.amount, tt.text, got, tt.want)
			}
		})
	}
}

// TestValidateTotalPriceFloorConfigurable checks the floor is taken from
// criteria, not hard-coded.
func TestValidateTotalPriceFloorConfigurable(t *testing.T) {
	e := newTestEngine()
	floor := 10.0
	c := Criteria{MinTotalPrice: &floor}

	if !e.ValidateTotalPrice(50, "cena 50 eur", c) {
		t.Error("amount above custom floor should validate")
	}
	if e.ValidateTotalPrice(5, "cena 5 eur", c) {
		t.Error("amount below custom floor should be rejected")
	}
}
