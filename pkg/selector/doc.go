// Package selector is the target selector (C3): it scores candidate nodes
// for a migrating or newly-started VM against one of four policies and
// returns the best match, tie-broken lexicographically by node name.
package selector
