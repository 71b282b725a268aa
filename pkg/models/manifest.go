// Package models contains data types shared by the server and clients.
package models

import "sort"

// Manifest maps a slash-separated path, relative to an application root, to
// its modification time in Unix milliseconds. Timestamps are always >= 1.
type Manifest map[string]int64

// Diff maps a path to the server timestamp of an added or updated file, or
// to DeletedMarker for a file the client should remove.
type Diff map[string]int64

// DeletedMarker marks a path as deleted in a Diff.
const DeletedMarker int64 = 0

// Clone returns a copy of m.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Paths returns the manifest's paths in sorted order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Apply returns a copy of m with d applied: deletion markers remove the
// path, anything else sets it.
func (m Manifest) Apply(d Diff) Manifest {
	out := m.Clone()
	for p, ts := range d {
		if ts == DeletedMarker {
			delete(out, p)
		} else {
			out[p] = ts
		}
	}
	return out
}

// Changed returns the added/updated paths of d, sorted.
func (d Diff) Changed() []string {
	var paths []string
	for p, ts := range d {
		if ts != DeletedMarker {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Deleted returns the deletion-marked paths of d, sorted.
func (d Diff) Deleted() []string {
	var paths []string
	for p, ts := range d {
		if ts == DeletedMarker {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}
