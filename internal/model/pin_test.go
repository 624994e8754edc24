package model

import "testing"

func TestPinKindValid(t *testing.T) {
	tests := []struct {
		kind PinKind
		want bool
	}{
		{PinKindDamage, true},
		{PinKindShelter, true},
		{PinKind("rescue"), false},
		{PinKind(""), false},
	}

	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.want {
			t.Errorf("PinKind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestAcceptedQty(t *testing.T) {
	pi := PinItem{RequestedQty: 10, RemainingQty: 3}
	if got := pi.AcceptedQty(); got != 7 {
		t.Errorf("AcceptedQty() = %d, want 7", got)
	}
}

func TestDerivePinStatus(t *testing.T) {
	tests := []struct {
		name  string
		items []PinItem
		want  DerivedStatus
	}{
		{
			name:  "ラインアイテムなし",
			items: nil,
			want:  DerivedStatusPending,
		},
		{
			name: "全件未受諾",
			items: []PinItem{
				{RequestedQty: 10, RemainingQty: 10},
				{RequestedQty: 5, RemainingQty: 5},
			},
			want: DerivedStatusPending,
		},
		{
			name: "1件でも受諾があれば部分受諾",
			items: []PinItem{
				{RequestedQty: 10, RemainingQty: 10},
				{RequestedQty: 5, RemainingQty: 4},
			},
			want: DerivedStatusPartiallyAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DerivePinStatus(tt.items); got != tt.want {
				t.Errorf("DerivePinStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}
