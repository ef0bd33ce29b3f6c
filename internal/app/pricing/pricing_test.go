package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCreationCost(t *testing.T) {
	cost, err := CreationCost(4, 5)
	if err != nil {
		t.Fatalf("creation cost: %v", err)
	}
	if want := decimal.RequireFromString("1.00"); !cost.Equal(want) {
		t.Fatalf("expected 1.00 for 4x5 grid, got %s", cost)
	}

	cost, err = CreationCost(5, 5)
	if err != nil {
		t.Fatalf("creation cost: %v", err)
	}
	if want := decimal.RequireFromString("1.25"); !cost.Equal(want) {
		t.Fatalf("expected 1.25 for 5x5 grid, got %s", cost)
	}
}

func TestCreationCostInvalidDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 5}, {5, 0}, {-1, 5}} {
		if _, err := CreationCost(dims[0], dims[1]); err == nil {
			t.Fatalf("expected error for %dx%d", dims[0], dims[1])
		}
	}
}

func TestEditCost(t *testing.T) {
	cost, err := EditCost(5, false)
	if err != nil {
		t.Fatalf("edit cost: %v", err)
	}
	if want := decimal.RequireFromString("1.75"); !cost.Equal(want) {
		t.Fatalf("expected 1.75 for 5 edits, got %s", cost)
	}
}

func TestEditCostOwnerIsFree(t *testing.T) {
	cost, err := EditCost(5, true)
	if err != nil {
		t.Fatalf("edit cost: %v", err)
	}
	if !cost.IsZero() {
		t.Fatalf("expected zero owner cost, got %s", cost)
	}
}

func TestEditCostInvalidCount(t *testing.T) {
	if _, err := EditCost(0, false); err == nil {
		t.Fatal("expected error for zero edits")
	}
	if _, err := EditCost(-3, false); err == nil {
		t.Fatal("expected error for negative edits")
	}
}

func TestExecutionCostEqualsCreationCost(t *testing.T) {
	creation := decimal.RequireFromString("1.25")
	if got := ExecutionCost(creation); !got.Equal(creation) {
		t.Fatalf("expected execution cost %s, got %s", creation, got)
	}
}

func TestCostRounding(t *testing.T) {
	// 3x7 grid: 21 cells * 0.05 = 1.05 exactly, already 2dp.
	cost, err := CreationCost(3, 7)
	if err != nil {
		t.Fatalf("creation cost: %v", err)
	}
	if cost.Exponent() < -2 {
		t.Fatalf("expected at most 2 decimal places, got %s", cost)
	}
}
