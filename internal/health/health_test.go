package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckHealth(t *testing.T) {
	hc := NewChecker("test")
	hc.RegisterComponent("store", func(context.Context) error { return nil })
	hc.RegisterComponent("chain", func(context.Context) error { return errors.New("rpc down") })

	h := hc.CheckHealth(context.Background())
	if h.OverallStatus != Unhealthy {
		t.Errorf("one failing component should make the wallet unhealthy, got %s", h.OverallStatus)
	}
	if len(h.Components) != 2 || h.Components[0].Name != "chain" {
		t.Fatalf("components should be sorted by name: %+v", h.Components)
	}
	if h.Components[0].Message != "rpc down" {
		t.Errorf("failure message not recorded")
	}
	if CreateResponse(h).Status != "error" {
		t.Errorf("unhealthy report should have error status")
	}
}

func TestStaleness(t *testing.T) {
	var last time.Time
	hc := NewChecker("test")
	hc.RegisterComponent("sync", Staleness("sync", time.Minute, func() time.Time { return last }))

	if h := hc.CheckHealth(context.Background()); h.OverallStatus != Degraded {
		t.Errorf("never-run sync should be degraded, got %s", h.OverallStatus)
	}
	last = time.Now()
	if h := hc.CheckHealth(context.Background()); h.OverallStatus != Healthy {
		t.Errorf("fresh sync should be healthy, got %s", h.OverallStatus)
	}
	last = time.Now().Add(-time.Hour)
	h := hc.CheckHealth(context.Background())
	if h.OverallStatus != Degraded || CreateResponse(h).Status != "warning" {
		t.Errorf("stale sync should be degraded, got %s", h.OverallStatus)
	}
}

func TestUpdateComponent(t *testing.T) {
	hc := NewChecker("test")
	hc.RegisterComponent("prover", nil)
	hc.UpdateComponent("prover", Degraded, "slow")
	if h := hc.GetHealth(); h.OverallStatus != Degraded || h.Components[0].Message != "slow" {
		t.Errorf("manual update not reflected: %+v", h)
	}
	// components without a CheckFunc keep their manual status
	if h := hc.CheckHealth(context.Background()); h.OverallStatus != Degraded {
		t.Errorf("nil check should not reset status")
	}
}
