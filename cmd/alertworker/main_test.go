package main

import (
	"testing"

	"wenmoon/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTC-USD", "btc"},
		{"ETH-USD", "eth"},
		{"SOL", "sol"},
	}
	for _, tt := range tests {
		if got := normalizeSymbol(tt.in); got != tt.want {
			t.Errorf("normalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTargetDirection(t *testing.T) {
	coin := models.Coin{CurrentPrice: floatPtr(60000), TargetPrice: floatPtr(70000)}
	if got := targetDirection(coin); got != models.DirectionAbove {
		t.Errorf("direction = %q, want above", got)
	}

	coin.TargetPrice = floatPtr(50000)
	if got := targetDirection(coin); got != models.DirectionBelow {
		t.Errorf("direction = %q, want below", got)
	}

	// Without a last known price, assume the target sits above.
	coin.CurrentPrice = nil
	if got := targetDirection(coin); got != models.DirectionAbove {
		t.Errorf("direction = %q, want above", got)
	}
}
