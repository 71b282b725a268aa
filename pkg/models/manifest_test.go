package models

import (
	"reflect"
	"testing"
)

func TestManifestApply(t *testing.T) {
	m := Manifest{"a.txt": 100, "b.txt": 100, "old.txt": 50}
	d := Diff{"b.txt": 200, "c.txt": 300, "old.txt": DeletedMarker}

	got := m.Apply(d)
	want := Manifest{"a.txt": 100, "b.txt": 200, "c.txt": 300}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
	if _, ok := m["c.txt"]; ok {
		t.Error("Apply must not modify the receiver")
	}
}

func TestDiffChangedDeleted(t *testing.T) {
	d := Diff{"z.py": 1, "a.py": 2, "gone.py": DeletedMarker, "also/gone.py": DeletedMarker}

	if got := d.Changed(); !reflect.DeepEqual(got, []string{"a.py", "z.py"}) {
		t.Errorf("Changed = %v", got)
	}
	if got := d.Deleted(); !reflect.DeepEqual(got, []string{"also/gone.py", "gone.py"}) {
		t.Errorf("Deleted = %v", got)
	}
	if got := (Diff{}).Changed(); len(got) != 0 {
		t.Errorf("empty diff Changed = %v", got)
	}
}

func TestManifestPathsSorted(t *testing.T) {
	m := Manifest{"b": 1, "a": 1, "c/d": 1}
	if got := m.Paths(); !reflect.DeepEqual(got, []string{"a", "b", "c/d"}) {
		t.Errorf("Paths = %v", got)
	}
}
