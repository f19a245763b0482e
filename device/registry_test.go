// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package device

import (
	"errors"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
)

// mockDevice is a minimal device implementation for registry tests.
type mockDevice struct {
	name   string
	closed bool
}

func (d *mockDevice) Params() Params                                   { return Params{Name: d.name} }
func (d *mockDevice) Allocate(_ []int, _ dtypes.DType) (Buffer, error) { return nil, nil }
func (d *mockDevice) Compile(_ Source) (Program, error)                { return nil, nil }
func (d *mockDevice) Launch(_ Program, _ Geometry, _ []any) error      { return nil }
func (d *mockDevice) Upload(_ Buffer, _ []byte) error                  { return nil }
func (d *mockDevice) Download(_ Buffer, _ []byte) error                { return nil }
func (d *mockDevice) Synchronize() error                               { return nil }
func (d *mockDevice) Close()                                           { d.closed = true }

// resetRegistry clears all registered backends for test isolation.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories = make(map[string]Factory)
}

func mockFactory(name string) Factory {
	return func() (Device, error) {
		return &mockDevice{name: name}, nil
	}
}

func TestRegisterAndOpen(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	Register("test", mockFactory("test"))

	dev, err := Open("test")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mock, ok := dev.(*mockDevice)
	if !ok {
		t.Fatalf("Open returned %T, want *mockDevice", dev)
	}
	if mock.name != "test" {
		t.Errorf("got name %q, want %q", mock.name, "test")
	}
}

func TestOpenUnknown(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	_, err := Open("nonexistent")
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("Open(nonexistent) error = %v, want ErrUnknownBackend", err)
	}
}

func TestOpenFactoryError(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	boom := errors.New("no adapter")
	Register("broken", func() (Device, error) { return nil, boom })

	_, err := Open("broken")
	if !errors.Is(err, boom) {
		t.Errorf("Open(broken) error = %v, want wrapped %v", err, boom)
	}
}

func TestRegisterPanics(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	t.Run("nil factory", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("Register(nil) did not panic")
			}
		}()
		Register("nil", nil)
	})

	t.Run("duplicate", func(t *testing.T) {
		Register("dup", mockFactory("dup"))
		defer func() {
			if recover() == nil {
				t.Error("duplicate Register did not panic")
			}
		}()
		Register("dup", mockFactory("dup"))
	})
}

func TestMustOpen(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	Register("ok", mockFactory("ok"))
	if d := MustOpen("ok"); d == nil {
		t.Fatal("MustOpen returned nil")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustOpen(missing) did not panic")
		}
	}()
	MustOpen("missing")
}

func TestBackendsSorted(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		Register(name, mockFactory(name))
	}

	got := Backends()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("Backends() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Backends()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if Count() != 3 {
		t.Errorf("Count() = %d, want 3", Count())
	}
}

func TestUnregister(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	Register("gone", mockFactory("gone"))
	if !IsRegistered("gone") {
		t.Fatal("IsRegistered(gone) = false after Register")
	}
	Unregister("gone")
	if IsRegistered("gone") {
		t.Error("IsRegistered(gone) = true after Unregister")
	}
	Unregister("never-registered")
}

func TestRegistryConcurrent(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	Register("shared", mockFactory("shared"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Open("shared"); err != nil {
				t.Errorf("Open: %v", err)
			}
			_ = Backends()
		}()
	}
	wg.Wait()
}
