package pulley

import (
	"context"
	"testing"

	"github.com/arpa2/pulley/config"
)

func TestControllerLifecycle(t *testing.T) {
	ctrl, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if got, want := ctrl.state, StateInitial; got != want {
		t.Fatalf("initial state = %v, want %v", got, want)
	}

	ctx := context.Background()
	script := `
Mail:x <- world
mailer(log) <- x
`
	if err := ctrl.Script(ctx, script); err != nil {
		t.Fatalf("Script: %v", err)
	}
	if ctrl.state != StateReady {
		t.Fatalf("state after Script = %v, want %v", ctrl.state, StateReady)
	}

	if err := ctrl.AddEntry(ctx, "11111111-1111-1111-1111-111111111111", map[string][]string{
		"Mail": {"a@example.org", "b@example.org"},
	}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	dump, err := ctrl.DumpState()
	if err != nil {
		t.Fatalf("DumpState: %v", err)
	}
	if dump.State != "ready" {
		t.Fatalf("dump.State = %q, want ready", dump.State)
	}
	if dump.Gens != 1 || dump.Drivers != 1 {
		t.Fatalf("unexpected dump shape: %+v", dump)
	}

	if err := ctrl.RemoveEntry(ctx, "11111111-1111-1111-1111-111111111111"); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}

	if err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ctrl.state != StateInitial {
		t.Fatalf("state after Stop = %v, want %v", ctrl.state, StateInitial)
	}
}

func TestControllerRejectsSyntaxError(t *testing.T) {
	ctrl, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.Script(context.Background(), "mailer(log) <-"); err == nil {
		t.Fatal("expected a syntax error")
	}
	if ctrl.state != StateBroken {
		t.Fatalf("state after failed Script = %v, want %v", ctrl.state, StateBroken)
	}
}

func TestControllerRejectsScriptAfterReady(t *testing.T) {
	ctrl, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.Script(context.Background(), "Mail:x <- world\nmailer(log) <- x\n"); err != nil {
		t.Fatalf("Script: %v", err)
	}

	if err := ctrl.Script(context.Background(), "CN:y <- world\nlogger(x) <- y\n"); err == nil {
		t.Fatal("expected Script to reject a second call once the controller is Ready")
	}
	if ctrl.state != StateReady {
		t.Fatalf("state after rejected re-Script = %v, want %v (unchanged)", ctrl.state, StateReady)
	}
}
