package device

import (
	"sort"
	"testing"
)

func TestDriverInfoListSorting(t *testing.T) {
	origlist := []*DriverInfo{
		{Order: DetectOrderTimer},
		{Order: DetectOrderLast},
		{Order: DetectOrderConsole},
		{Order: DetectOrderEarly},
	}

	list := DriverInfoList(append([]*DriverInfo(nil), origlist...))
	sort.Sort(list)

	expOrder := []int{3, 2, 0, 1}
	for i, exp := range expOrder {
		if list[i] != origlist[exp] {
			t.Errorf("expected sorted entry %d to be %v; got %v", i, origlist[exp], list[i])
		}
	}
}

func TestRegistry(t *testing.T) {
	var (
		reg      Registry
		origlist = []*DriverInfo{
			{Order: DetectOrderLast},
			{Order: DetectOrderTimer},
			{Order: DetectOrderConsole},
			{Order: DetectOrderTimer},
		}
	)

	for _, drv := range origlist {
		reg.Register(drv)
	}

	registeredList := reg.List()
	if exp, got := len(origlist), len(registeredList); got != exp {
		t.Fatalf("expected List() to return %d entries; got %d", exp, got)
	}

	expOrder := []int{2, 1, 3, 0}
	for i, exp := range expOrder {
		if registeredList[i] != origlist[exp] {
			t.Errorf("expected sorted entry %d to be %v; got %v", i, origlist[exp], registeredList[i])
		}
	}

	// List returns a copy; the registration order is untouched.
	if reg.drivers[0] != origlist[0] {
		t.Error("expected List() not to reorder the registry")
	}
}
