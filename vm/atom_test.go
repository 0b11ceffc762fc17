package vm

import "testing"

func TestAtomIdempotence(t *testing.T) {
	at := NewAtomTable()
	names := []string{"foo", "bar", "aVeryLongIdentifierName", "_x", "$y", "foo"}
	for _, name := range names {
		a := at.Intern(name)
		if b := at.Intern(name); b != a {
			t.Errorf("Intern(%q) not idempotent: %d != %d", name, a, b)
		}
		if got := at.Resolve(a); got != name {
			t.Errorf("Resolve(Intern(%q)) = %q", name, got)
		}
	}
	if at.Intern("foo") == at.Intern("bar") {
		t.Error("distinct names must intern to distinct atoms")
	}
}

func TestWellKnownAtoms(t *testing.T) {
	at := NewAtomTable()
	if at.Intern("constructor") != AtomConstructor {
		t.Error("constructor not in reserved range")
	}
	if at.Intern("iterator") != AtomIterator {
		t.Error("iterator not in reserved range")
	}
	if at.Intern("lookupHostname") != AtomLookupHostname {
		t.Error("lookupHostname not in reserved range")
	}
	// New interning starts above the reserved range.
	if int(at.Intern("someNewName")) < WellKnownCount() {
		t.Error("fresh atom landed inside the reserved range")
	}
	for a, name := range wellKnownAtomNames {
		if name == "" {
			t.Errorf("well-known atom %d has no name", a)
		}
		if at.Resolve(Atom(a)) != name {
			t.Errorf("Resolve(%d) = %q, want %q", a, at.Resolve(Atom(a)), name)
		}
	}
}

func TestAtomLookup(t *testing.T) {
	at := NewAtomTable()
	if at.Lookup("missing") != NoAtom {
		t.Error("Lookup of missing name must return NoAtom")
	}
	a := at.Intern("present")
	if at.Lookup("present") != a {
		t.Error("Lookup disagrees with Intern")
	}
	if at.Resolve(NoAtom) != "" {
		t.Error("Resolve(NoAtom) must be empty")
	}
}
