package main

import "testing"

func TestParseWaypoints(t *testing.T) {
	pts, err := parseWaypoints("0,0; 100,-50 ;")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pts) != 2 || pts[1].X != 100 || pts[1].Y != -50 {
		t.Fatalf("pts=%v", pts)
	}
	for _, bad := range []string{"", ";", "1", "1,2,3", "x,1"} {
		if _, err := parseWaypoints(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
