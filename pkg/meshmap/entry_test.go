package meshmap

import "testing"

func TestNewEntryDefaultsToPrimary(t *testing.T) {
	e := NewEntry[string, int]("k", 1)
	if !e.IsPrimary() {
		t.Fatalf("NewEntry should default to PRIMARY")
	}
	if !e.Active() {
		t.Fatalf("PRIMARY entries must be active")
	}
}

func TestEntryActiveExcludesOnlyProxy(t *testing.T) {
	e := NewEmptyEntry[string, int]("k")
	for _, r := range []Role{RolePrimary, RoleBackup, RoleCopy} {
		e.SetRole(r)
		if !e.Active() {
			t.Fatalf("role %s should be active", r)
		}
	}
	e.SetRole(RoleProxy)
	if e.Active() {
		t.Fatalf("PROXY should not be active")
	}
}

func TestEntrySetRoutingAtomicity(t *testing.T) {
	e := NewEmptyEntry[string, int]("k")
	e.SetRouting(RoleBackup, "primary-1", []MemberID{"b1", "b2"})

	snap := e.Snapshot()
	if snap.Role != RoleBackup || snap.Primary != "primary-1" || len(snap.Backups) != 2 {
		t.Fatalf("snapshot after SetRouting = %+v, want role=BACKUP primary=primary-1 backups=len2", snap)
	}
}

func TestEntryBackupsIsDefensiveCopy(t *testing.T) {
	e := NewEmptyEntry[string, int]("k")
	e.SetBackups([]MemberID{"b1"})
	got := e.Backups()
	got[0] = "mutated"
	if e.Backups()[0] != "b1" {
		t.Fatalf("mutating the returned slice must not affect entry state")
	}
}

func TestEntryValueHasFlag(t *testing.T) {
	e := NewEmptyEntry[string, string]("k")
	if _, has := e.Value(); has {
		t.Fatalf("empty entry should report has=false")
	}
	e.SetValue("v")
	v, has := e.Value()
	if !has || v != "v" {
		t.Fatalf("Value() = %q,%v want v,true", v, has)
	}
}
