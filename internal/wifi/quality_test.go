package wifi

import "testing"

func TestQualityMonotonic(t *testing.T) {
	prev := Quality(-120)
	if prev != 0 {
		t.Errorf("Quality(-120) = %d, want 0", prev)
	}
	for rssi := -119; rssi <= 0; rssi++ {
		q := Quality(rssi)
		if q < prev {
			t.Fatalf("Quality(%d) = %d, less than Quality(%d) = %d", rssi, q, rssi-1, prev)
		}
		if q < 0 || q > 100 || q%20 != 0 {
			t.Fatalf("Quality(%d) = %d, not a 20%% step", rssi, q)
		}
		prev = q
	}
	if prev != 100 {
		t.Errorf("Quality(0) = %d, want 100", prev)
	}
}

func TestSplitHidden(t *testing.T) {
	named, hidden := SplitHidden([]Network{{SSID: "a"}, {}, {SSID: "b"}, {}})
	if hidden != 2 || len(named) != 2 || named[0].SSID != "a" || named[1].SSID != "b" {
		t.Errorf("SplitHidden() = %v, %d", named, hidden)
	}
	if named, hidden := SplitHidden(nil); len(named) != 0 || hidden != 0 {
		t.Errorf("SplitHidden(nil) = %v, %d", named, hidden)
	}
}
