package loadshape

import "testing"

func TestParseTestPlanBasic(t *testing.T) {
	p, err := ParseTestPlan("10,30s;50,1m;0,30s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(p.Steps))
	}
	if p.Steps[1].Users != 50 {
		t.Fatalf("expected step 1 users=50, got %d", p.Steps[1].Users)
	}
	if p.PeakUsers() != 50 {
		t.Fatalf("expected peak 50, got %d", p.PeakUsers())
	}
}

func TestParseTestPlanEmpty(t *testing.T) {
	p, err := ParseTestPlan("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Steps) != 0 {
		t.Fatalf("expected zero steps for empty plan")
	}
}

func TestParseTestPlanInvalid(t *testing.T) {
	cases := []string{"abc", "10", "10,", "-1,5s", "10,notaduration"}
	for _, c := range cases {
		if _, err := ParseTestPlan(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestTestPlanStringRoundTrip(t *testing.T) {
	orig := "10,30s;50,1m0s"
	p, err := ParseTestPlan(orig)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := ParseTestPlan(p.String())
	if err != nil {
		t.Fatalf("round trip reparse failed: %v", err)
	}
	if len(p2.Steps) != len(p.Steps) {
		t.Fatalf("round trip step count mismatch")
	}
	for i := range p.Steps {
		if p.Steps[i] != p2.Steps[i] {
			t.Fatalf("round trip mismatch at step %d: %+v vs %+v", i, p.Steps[i], p2.Steps[i])
		}
	}
}

func TestParseDurationFallsBackToStdlib(t *testing.T) {
	d, err := ParseDuration("1h30m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Hours() != 1.5 {
		t.Fatalf("expected 1.5h, got %v", d)
	}
}
