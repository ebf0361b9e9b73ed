package backend

import "testing"

// fakeABI is a minimal in-memory ABI implementation for exercising
// Manager's 2PC delegation without a real .so plug-in.
type fakeABI struct {
	failCommit bool

	collaborated []string
	prepared     bool
	committed    bool
	rolledBack   bool
}

func (f *fakeABI) Open(args []string) (InstanceHandle, error) { return 1, nil }
func (f *fakeABI) Close(h InstanceHandle) error                 { return nil }
func (f *fakeABI) Add(h InstanceHandle, driverLineHash uint32, values [][]byte) error {
	return nil
}
func (f *fakeABI) Del(h InstanceHandle, driverLineHash uint32, values [][]byte) error {
	return nil
}
func (f *fakeABI) Reset(h InstanceHandle) error { return nil }
func (f *fakeABI) Prepare(h InstanceHandle) error {
	f.prepared = true
	return nil
}
func (f *fakeABI) Commit(h InstanceHandle) error {
	if f.failCommit {
		return errCommitFailed
	}
	f.committed = true
	return nil
}
func (f *fakeABI) Rollback(h InstanceHandle) error {
	f.rolledBack = true
	return nil
}
func (f *fakeABI) Collaborate(h InstanceHandle, peers []string) error {
	f.collaborated = append(f.collaborated, peers...)
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errCommitFailed = fakeErr("commit failed")

// newFakeImage registers abi under name directly into the Manager's image
// table, bypassing Load (which requires a real .so file).
func newFakeImage(m *Manager, name string, abi ABI) {
	m.images[name] = &image{name: name, abi: abi, generation: 1}
}

// TestCollaborateEnrollsEveryInstance proves Collaborate is invoked with
// the full peer set on every instance before any Prepare/Commit call.
func TestCollaborateEnrollsEveryInstance(t *testing.T) {
	m := NewManager()
	a, b := &fakeABI{}, &fakeABI{}
	newFakeImage(m, "a", a)
	newFakeImage(m, "b", b)

	ha, err := m.Open("a", nil)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	hb, err := m.Open("b", nil)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	peers := []string{"a", "b"}
	if err := m.Collaborate("a", ha, peers); err != nil {
		t.Fatalf("Collaborate a: %v", err)
	}
	if err := m.Collaborate("b", hb, peers); err != nil {
		t.Fatalf("Collaborate b: %v", err)
	}

	if len(a.collaborated) != 2 || len(b.collaborated) != 2 {
		t.Fatalf("expected both instances enrolled with the full peer set, got a=%v b=%v", a.collaborated, b.collaborated)
	}
}

// TestCommitFailureRollsBackEveryCollaborator proves §8 Scenario 5: when
// Commit fails on one instance after every instance enrolled via
// Collaborate, Rollback must be invoked on every one of them, not just the
// failing instance.
func TestCommitFailureRollsBackEveryCollaborator(t *testing.T) {
	m := NewManager()
	ok, bad := &fakeABI{}, &fakeABI{failCommit: true}
	newFakeImage(m, "ok", ok)
	newFakeImage(m, "bad", bad)

	hok, err := m.Open("ok", nil)
	if err != nil {
		t.Fatalf("Open ok: %v", err)
	}
	hbad, err := m.Open("bad", nil)
	if err != nil {
		t.Fatalf("Open bad: %v", err)
	}

	peers := []string{"ok", "bad"}
	if err := m.Collaborate("ok", hok, peers); err != nil {
		t.Fatalf("Collaborate ok: %v", err)
	}
	if err := m.Collaborate("bad", hbad, peers); err != nil {
		t.Fatalf("Collaborate bad: %v", err)
	}

	if err := m.Prepare("ok", hok); err != nil {
		t.Fatalf("Prepare ok: %v", err)
	}
	if err := m.Prepare("bad", hbad); err != nil {
		t.Fatalf("Prepare bad: %v", err)
	}

	commitErrOK := m.Commit("ok", hok)
	commitErrBad := m.Commit("bad", hbad)
	if commitErrOK != nil {
		t.Fatalf("expected ok's commit to succeed in isolation, got %v", commitErrOK)
	}
	if commitErrBad == nil {
		t.Fatalf("expected bad's commit to fail")
	}

	// Orchestration (pulley.Controller.commitBackends) rolls back every
	// enrolled instance once any Commit fails; exercised here directly at
	// the Manager/ABI layer since a Controller-level test would need a real
	// .so plug-in to load through backend.Manager.Load.
	if err := m.Rollback("ok", hok); err != nil {
		t.Fatalf("Rollback ok: %v", err)
	}
	if err := m.Rollback("bad", hbad); err != nil {
		t.Fatalf("Rollback bad: %v", err)
	}

	if !ok.rolledBack {
		t.Fatalf("expected the successfully-committed instance to also be rolled back")
	}
	if !bad.rolledBack {
		t.Fatalf("expected the failing instance to be rolled back")
	}
	if ok.committed == false {
		t.Fatalf("sanity: ok's commit should have actually run")
	}
}
