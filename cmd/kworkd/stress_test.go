package main

import (
	"context"
	"testing"
	"time"
)

func TestStressSmoke(t *testing.T) {
	o := stressOpts{duration: 50 * time.Millisecond, producers: 1, items: 4, maxDelay: 2}
	if err := runStress(context.Background(), o); err != nil {
		t.Fatalf("runStress = %v", err)
	}
}

func TestStressCommandRejectsBadFlags(t *testing.T) {
	cmd := newStressCmd()
	cmd.SetArgs([]string{"--producers", "0"})
	cmd.SetContext(context.Background())
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for --producers 0")
	}
}
