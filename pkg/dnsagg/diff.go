package dnsagg

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// diff computes the records that must be added and removed to bring
// current (the SQL-backed records pdns_server serves) in line with
// incoming (this tick's AXFR pull), mirroring AXFRDaemonInstance.run()'s
// sorted-list set difference. A name+type match with differing data
// counts as a replace: the old record is removed and the new one added,
// rather than left stale.
func diff(current, incoming []Record) (add, remove []Record) {
	byKey := make(map[string]Record, len(current))
	for _, r := range current {
		byKey[r.key()] = r
	}

	seen := make(map[string]bool, len(incoming))
	for _, r := range incoming {
		seen[r.key()] = true
		old, existed := byKey[r.key()]
		switch {
		case !existed:
			add = append(add, r)
		case old.Data != r.Data:
			remove = append(remove, old)
			add = append(add, r)
		}
	}

	for _, r := range current {
		if !seen[r.key()] {
			remove = append(remove, r)
		}
	}

	sortRecords(add)
	sortRecords(remove)
	return add, remove
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Name != rs[j].Name {
			return rs[i].Name < rs[j].Name
		}
		return rs[i].Type < rs[j].Type
	})
}

// incrementSerial bumps the third whitespace-separated field of an SOA
// record's content (the serial), per the teacher daemon's
// read-increment-write of the SOA string on each changed zone.
func incrementSerial(soa string) (string, error) {
	fields := strings.Fields(soa)
	if len(fields) < 7 {
		return "", fmt.Errorf("malformed SOA record: %q", soa)
	}
	serial, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return "", fmt.Errorf("parsing SOA serial: %w", err)
	}
	fields[2] = strconv.FormatUint(serial+1, 10)
	return strings.Join(fields, " "), nil
}
