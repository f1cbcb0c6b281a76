package core

import (
	"strings"
	"testing"
)

func TestRegisterDriver_LookupAndAliases(t *testing.T) {
	d := &fakeDriver{name: "FakeDB", store: newFakeStore()}
	RegisterDriver(d, "fdb")
	defer unregisterDriver("fakedb")

	for _, name := range []string{"fakedb", "FAKEDB", " FakeDB ", "fdb", "FDB"} {
		got, err := LookupDriver(name)
		if err != nil {
			t.Errorf("LookupDriver(%q) error = %v", name, err)
			continue
		}
		if got != d {
			t.Errorf("LookupDriver(%q) returned a different driver", name)
		}
	}

	found := false
	for _, n := range Drivers() {
		if n == "fakedb" {
			found = true
		}
	}
	if !found {
		t.Errorf("Drivers() = %v, want it to contain fakedb", Drivers())
	}
}

func TestDriverCapabilities(t *testing.T) {
	store := newFakeStore()
	store.transactionalDDL = false
	RegisterDriver(&fakeDriver{name: "capdb", store: store})
	defer unregisterDriver("capdb")

	got, ok := DriverCapabilities()["capdb"]
	if !ok {
		t.Fatal("DriverCapabilities() has no capdb entry")
	}
	want := Capabilities{TransactionalDDL: false, NativeBulkCopy: true}
	if got != want {
		t.Errorf("capdb = %+v, want %+v", got, want)
	}
}

func TestRegisterDriver_PanicsOnDuplicate(t *testing.T) {
	RegisterDriver(&fakeDriver{name: "dup", store: newFakeStore()})
	defer unregisterDriver("dup")

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
		if !strings.Contains(r.(string), "already registered") {
			t.Errorf("panic = %v, want 'already registered'", r)
		}
	}()
	RegisterDriver(&fakeDriver{name: "dup", store: newFakeStore()})
}

func TestLookupDriver_Unknown(t *testing.T) {
	_, err := LookupDriver("nope")
	if err == nil {
		t.Fatal("LookupDriver(nope) error = nil")
	}
	if !strings.Contains(err.Error(), `unknown driver "nope"`) {
		t.Errorf("error = %q", err)
	}
}
