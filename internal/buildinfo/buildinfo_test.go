package buildinfo

import "testing"

func TestString_ContainsVersion(t *testing.T) {
	s := String()
	if s == "" {
		t.Fatal("String() returned empty string")
	}
}

func TestProbe_FillsFields(t *testing.T) {
	r := Probe()
	if r.NumCPU <= 0 {
		t.Errorf("NumCPU = %d, want > 0", r.NumCPU)
	}
	if r.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
	if r.PID <= 0 {
		t.Errorf("PID = %d, want > 0", r.PID)
	}
}
