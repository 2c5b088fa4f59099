package naming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// planetTree builds root -> planet -> earth with two mailbox entries.
func planetTree(t *testing.T) *Zone {
	t.Helper()
	ctx := context.Background()
	root := NewZone("")
	if err := root.RegisterZone(ctx, "planet", NewZone("planet")); err != nil {
		t.Fatalf("register planet: %v", err)
	}
	if err := root.RegisterZone(ctx, "earth.planet", NewZone("earth.planet")); err != nil {
		t.Fatalf("register earth.planet: %v", err)
	}
	if err := root.RegisterMailbox(ctx, "vienna.earth.planet", "127.0.0.1:8001"); err != nil {
		t.Fatalf("register vienna: %v", err)
	}
	if err := root.RegisterMailbox(ctx, "mars.planet", "127.0.0.1:8002"); err != nil {
		t.Fatalf("register mars: %v", err)
	}
	return root
}

func TestRegisterAndLookup(t *testing.T) {
	root := planetTree(t)
	r := NewResolver(root, nil)

	tests := []struct {
		domain string
		want   string
	}{
		{"vienna.earth.planet", "127.0.0.1:8001"},
		{"mars.planet", "127.0.0.1:8002"},
	}
	for _, tt := range tests {
		got, err := r.LookupAddress(context.Background(), tt.domain)
		if err != nil {
			t.Errorf("LookupAddress(%q) error = %v", tt.domain, err)
			continue
		}
		if got != tt.want {
			t.Errorf("LookupAddress(%q) = %q, want %q", tt.domain, got, tt.want)
		}
	}
}

func TestRegisterMailboxTwice(t *testing.T) {
	root := planetTree(t)
	err := root.RegisterMailbox(context.Background(), "vienna.earth.planet", "127.0.0.1:9999")
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	addr, err := NewResolver(root, nil).LookupAddress(context.Background(), "vienna.earth.planet")
	if err != nil || addr != "127.0.0.1:8001" {
		t.Errorf("original registration changed: %q, %v", addr, err)
	}
}

func TestRegisterZoneTwice(t *testing.T) {
	root := planetTree(t)
	err := root.RegisterZone(context.Background(), "planet", NewZone("planet"))
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestMailboxAndZoneMapsAreIndependent(t *testing.T) {
	root := planetTree(t)
	// "earth" exists as a delegation under planet; a mailbox with the
	// same label lives in a separate map.
	if err := root.RegisterMailbox(context.Background(), "earth.planet", "127.0.0.1:8003"); err != nil {
		t.Fatalf("RegisterMailbox() error = %v", err)
	}
}

func TestRegisterWithoutDelegation(t *testing.T) {
	ctx := context.Background()
	root := NewZone("")
	if err := root.RegisterZone(ctx, "planet", NewZone("planet")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"mailbox below missing zone", func() error {
			return root.RegisterMailbox(ctx, "vienna.earth.planet", "127.0.0.1:1")
		}},
		{"zone below missing zone", func() error {
			return root.RegisterZone(ctx, "vienna.earth.planet", NewZone("x"))
		}},
		{"missing top level", func() error {
			return root.RegisterMailbox(ctx, "earth.moon", "127.0.0.1:1")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrInvalidDomain) {
				t.Errorf("expected ErrInvalidDomain, got %v", err)
			}
		})
	}
}

func TestInvalidDomains(t *testing.T) {
	root := planetTree(t)
	for _, d := range []string{"", ".", "earth..planet", ".planet", "planet."} {
		if err := root.RegisterMailbox(context.Background(), d, "127.0.0.1:1"); !errors.Is(err, ErrInvalidDomain) {
			t.Errorf("RegisterMailbox(%q) = %v, want ErrInvalidDomain", d, err)
		}
	}
	if _, err := NewResolver(root, nil).LookupAddress(context.Background(), "a..planet"); !errors.Is(err, ErrInvalidDomain) {
		t.Errorf("LookupAddress with empty label = %v", err)
	}
}

func TestLookupNotFound(t *testing.T) {
	r := NewResolver(planetTree(t), nil)
	for _, d := range []string{"paris.earth.planet", "vienna.moon.planet", "x.y.z"} {
		if _, err := r.LookupAddress(context.Background(), d); !errors.Is(err, ErrNotFound) {
			t.Errorf("LookupAddress(%q) = %v, want ErrNotFound", d, err)
		}
	}
}

func TestZoneListings(t *testing.T) {
	ctx := context.Background()
	root := NewZone("")
	for _, l := range []string{"venus", "earth", "mars"} {
		if err := root.RegisterZone(ctx, l, NewZone(l)); err != nil {
			t.Fatal(err)
		}
		if err := root.RegisterMailbox(ctx, l, "127.0.0.1:1"); err != nil {
			t.Fatal(err)
		}
	}

	zones := root.Zones()
	if len(zones) != 3 || zones[0].Label != "earth" || zones[2].Label != "venus" {
		t.Errorf("Zones() = %+v", zones)
	}
	boxes := root.Mailboxes()
	if len(boxes) != 3 || boxes[1].Label != "mars" {
		t.Errorf("Mailboxes() = %+v", boxes)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	root := planetTree(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i := range n {
		wg.Add(2)
		domain := fmt.Sprintf("city%d.earth.planet", i)
		for range 2 {
			go func() {
				defer wg.Done()
				errs <- root.RegisterMailbox(ctx, domain, "127.0.0.1:1")
			}()
		}
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyRegistered):
			dup++
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != n || dup != n {
		t.Errorf("ok=%d dup=%d, want %d each", ok, dup, n)
	}
}

func TestStaticTable(t *testing.T) {
	table := StaticTable{"earth.planet": "127.0.0.1:8026"}
	d, err := table.Resolve(context.Background(), "earth.planet")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Port != 8026 || d.Name != "earth.planet" {
		t.Errorf("domain = %+v", d)
	}
	if _, err := table.Resolve(context.Background(), "mars.planet"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChain(t *testing.T) {
	root := planetTree(t)
	chain := Chain{
		NewResolver(root, nil),
		StaticTable{"moon.planet": "127.0.0.1:8004"},
	}

	d, err := chain.Resolve(context.Background(), "mars.planet")
	if err != nil || d.Port != 8002 {
		t.Errorf("Resolve(mars) = %+v, %v", d, err)
	}
	d, err = chain.Resolve(context.Background(), "moon.planet")
	if err != nil || d.Port != 8004 {
		t.Errorf("Resolve(moon) = %+v, %v", d, err)
	}
	if _, err := chain.Resolve(context.Background(), "pluto.planet"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := (Chain{}).Resolve(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty chain: %v", err)
	}
}
