package retention

import (
	"reflect"
	"testing"

	"github.com/btrbak/btrbak/internal/catalog"
)

func TestPlanSourceWithPinning(t *testing.T) {
	// S5: source has A < B < C < D, --num-snapshots 1, destination has only B.
	source := catalog.NewSet([]string{"A", "B", "C", "D"})
	pins := SourcePins{
		Locked:      map[string]struct{}{},
		LiveParents: []string{"B"},
	}

	p := PlanSource(source, 1, pins)

	want := []string{"A", "C"}
	if !reflect.DeepEqual(p.Delete, want) {
		t.Fatalf("PlanSource.Delete = %v, want %v", p.Delete, want)
	}
}

func TestPlanSourceLockedNeverDeleted(t *testing.T) {
	source := catalog.NewSet([]string{"A", "B", "C"})
	pins := SourcePins{Locked: map[string]struct{}{"A": {}}}

	p := PlanSource(source, 1, pins)

	for _, d := range p.Delete {
		if d == "A" {
			t.Fatalf("locked snapshot A must never be deleted, got delete list %v", p.Delete)
		}
	}
}

func TestPlanSourceZeroRetainsAll(t *testing.T) {
	source := catalog.NewSet([]string{"A", "B", "C"})
	p := PlanSource(source, 0, SourcePins{})
	if len(p.Delete) != 0 {
		t.Fatalf("expected nothing deleted with retainCount=0, got %v", p.Delete)
	}
}

func TestPlanDestinationPinsMostRecent(t *testing.T) {
	dest := catalog.NewSet([]string{"A", "B", "C"})
	p := PlanDestination(dest, 1)

	for _, d := range p.Delete {
		if d == "C" {
			t.Fatalf("most recent destination snapshot must never be deleted, got %v", p.Delete)
		}
	}
	want := []string{"A", "B"}
	if !reflect.DeepEqual(p.Delete, want) {
		t.Fatalf("PlanDestination.Delete = %v, want %v", p.Delete, want)
	}
}
