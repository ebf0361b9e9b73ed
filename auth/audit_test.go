package auth

import (
	"testing"
	"time"
)

type recordingAudit struct {
	verb string
	p    Permission
	err  error

	verbCalls int
	verbDur   time.Duration
	verbErr   error
}

func (r *recordingAudit) Authorization(verb string, p Permission, err error) {
	r.verb, r.p, r.err = verb, p, err
}

func (r *recordingAudit) Verb(verb string, d time.Duration, err error) {
	r.verbCalls++
	r.verb, r.verbDur, r.verbErr = verb, d, err
}

func TestAuditRecordsAuthorization(t *testing.T) {
	rec := &recordingAudit{}
	a := NewAudit(NewNativeSingle("tok", ReadPerm), rec)

	if err := a.Allowed("tok", ReadPerm); err != nil {
		t.Fatalf("Allowed: %v", err)
	}
	if rec.p != ReadPerm || rec.err != nil {
		t.Fatalf("unexpected audit record: p=%v err=%v", rec.p, rec.err)
	}

	if err := a.Allowed("tok", WritePerm); err == nil {
		t.Fatal("expected an authorization error")
	}
	if rec.err == nil {
		t.Fatal("expected the audit record to capture the authorization error")
	}
}

func TestAuditAllowedVerbNamesTheVerb(t *testing.T) {
	rec := &recordingAudit{}
	a := NewAudit(NewNativeSingle("tok", ReadPerm), rec).(*Audit)

	if err := a.AllowedVerb("dump_state", "tok", ReadPerm); err != nil {
		t.Fatalf("AllowedVerb: %v", err)
	}
	if rec.verb != "dump_state" {
		t.Fatalf("rec.verb = %q, want dump_state", rec.verb)
	}

	a.Verb("dump_state", time.Millisecond, nil)
	if rec.verbCalls != 1 {
		t.Fatalf("expected exactly 1 Verb call, got %d", rec.verbCalls)
	}
}
