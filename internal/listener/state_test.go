// SPDX-License-Identifier: MIT
package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStartHandshakeTimeout(t *testing.T) {
	f := newFixture(t, producers(0), Options{})
	sm := f.listener.StateMachine()

	err := sm.Start(context.Background())
	if !errors.Is(err, ErrNoProducer) {
		t.Fatalf("Start = %v, want ErrNoProducer", err)
	}
	if sm.State() != Idle {
		t.Errorf("state = %s, want IDLE", sm.State())
	}
	if n := f.factory.Created(); n != 0 {
		t.Errorf("engines created = %d, want 0", n)
	}
	if n := testutil.ToFloat64(f.metrics.HandshakeFailures); n != 1 {
		t.Errorf("handshake failures = %v, want 1", n)
	}

	elapsed := f.clock.Elapsed()
	if elapsed <= 5*time.Second || elapsed > 5500*time.Millisecond {
		t.Errorf("handshake waited %s, want just over 5s", elapsed)
	}
	if f.clock.waits != 11 {
		t.Errorf("handshake polled %d times, want 11 waits of 0.5s", f.clock.waits)
	}
}

func TestStartWaitsForLateProducer(t *testing.T) {
	f := newFixture(t, producers(0, 0, 0, 1), Options{})
	sm := f.listener.StateMachine()

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sm.State() != Listening {
		t.Fatalf("state = %s, want LISTENING", sm.State())
	}
	if got := f.clock.Elapsed(); got != 1500*time.Millisecond {
		t.Errorf("handshake waited %s, want 1.5s", got)
	}
}

func TestStartHandshakeCancelled(t *testing.T) {
	f := newFixture(t, producers(0), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.listener.StateMachine().Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start = %v, want context.Canceled", err)
	}
	if f.factory.Created() != 0 {
		t.Error("engine created after cancelled handshake")
	}
}

func TestStartCreatesSessionFromEngine(t *testing.T) {
	f := newFixture(t, producers(1), Options{})
	f.params.Set("frame_length", 512)
	f.params.Set("recording", true)
	sm := f.listener.StateMachine()

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	info, ok := sm.Session()
	if !ok {
		t.Fatal("no session while listening")
	}
	// The engine's frame length is authoritative over the producer's.
	if info.FrameLength != testFrameLength || info.SampleRate != 16000 {
		t.Errorf("session = %+v", info)
	}
	if info.ID == "" {
		t.Error("session has no id")
	}
	if len(info.Keywords) != 2 || info.Keywords[0] != "hey-robot" {
		t.Errorf("keywords = %v", info.Keywords)
	}

	if f.factory.keys[0] != "test-key" {
		t.Errorf("access key = %q", f.factory.keys[0])
	}
	if paths := f.factory.paths[0]; len(paths) != 2 || paths[1] != "/models/stop-robot.ppn" {
		t.Errorf("keyword paths = %v", paths)
	}
}

func TestStartWithoutParameters(t *testing.T) {
	f := newFixture(t, producers(1), Options{})
	if err := f.listener.StateMachine().Start(context.Background()); err != nil {
		t.Fatalf("missing parameters must not be fatal: %v", err)
	}
	if f.listener.StateMachine().State() != Listening {
		t.Error("not listening")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t, producers(1), Options{})
	sm := f.listener.StateMachine()

	for i := 0; i < 3; i++ {
		if err := sm.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
	}
	if n := f.factory.Created(); n != 1 {
		t.Errorf("engines created = %d, want 1", n)
	}
	if n := testutil.ToFloat64(f.metrics.SessionsStarted); n != 1 {
		t.Errorf("sessions started = %v, want 1", n)
	}
}

func TestStartEngineFailure(t *testing.T) {
	f := newFixture(t, producers(1), Options{})
	f.factory.err = errors.New("bad access key")
	sm := f.listener.StateMachine()

	err := sm.Start(context.Background())
	if !errors.Is(err, ErrEngineCreate) {
		t.Fatalf("Start = %v, want ErrEngineCreate", err)
	}
	if sm.State() != Idle {
		t.Errorf("state = %s, want IDLE", sm.State())
	}
	if _, ok := sm.Session(); ok {
		t.Error("half-initialized session left behind")
	}

	// A retry after the cause is fixed succeeds.
	f.factory.err = nil
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if sm.State() != Listening {
		t.Error("retry did not reach LISTENING")
	}
}

func TestStopReleasesEngineOnce(t *testing.T) {
	f := newFixture(t, producers(1), Options{})
	sm := f.listener.StateMachine()

	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop while idle: %v", err)
	}

	sm.Start(context.Background())
	engine := f.factory.Last()
	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sm.Stop()

	if sm.State() != Idle {
		t.Errorf("state = %s, want IDLE", sm.State())
	}
	if engine.Deletes() != 1 {
		t.Errorf("engine deleted %d times, want 1", engine.Deletes())
	}
	if _, ok := sm.Session(); ok {
		t.Error("session still visible after stop")
	}
}

func TestCloseEndsIdle(t *testing.T) {
	f := newFixture(t, producers(1), Options{})
	f.listener.StateMachine().Start(context.Background())
	engine := f.factory.Last()

	if err := f.listener.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.listener.StateMachine().State() != Idle || engine.Deletes() != 1 {
		t.Error("Close did not release the session")
	}
}

func TestCommandSequences(t *testing.T) {
	tests := []struct {
		name      string
		commands  []string
		engineErr bool
		want      State
		creates   int
	}{
		{"none", nil, false, Idle, 0},
		{"start", []string{"e_start"}, false, Listening, 1},
		{"start stop", []string{"e_start", "e_stop"}, false, Idle, 1},
		{"stop only", []string{"e_stop", "e_stop"}, false, Idle, 0},
		{"repeated start", []string{"e_start", "e_start", "e_start"}, false, Listening, 1},
		{"restart", []string{"e_start", "e_stop", "e_start"}, false, Listening, 2},
		{"noise ignored", []string{"e_start", "bogus", "", "E_STOP"}, false, Listening, 1},
		{"stop last", []string{"e_start", "e_stop", "e_start", "e_stop", "e_stop"}, false, Idle, 2},
		{"no command succeeds", []string{"e_start", "e_start"}, true, Idle, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, producers(1), Options{})
			if tt.engineErr {
				f.factory.err = errors.New("engine unavailable")
			}

			for _, cmd := range tt.commands {
				f.listener.HandleCommand(context.Background(), cmd)
			}

			if got := f.listener.StateMachine().State(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
			if got := f.factory.Created(); got != tt.creates {
				t.Errorf("engines created = %d, want %d", got, tt.creates)
			}
		})
	}
}

func TestHandleCommandReportsTransitionError(t *testing.T) {
	f := newFixture(t, producers(0), Options{})
	if err := f.listener.HandleCommand(context.Background(), "e_start"); !errors.Is(err, ErrNoProducer) {
		t.Errorf("HandleCommand = %v, want ErrNoProducer", err)
	}
	if err := f.listener.HandleCommand(context.Background(), "dance"); err != nil {
		t.Errorf("unknown command returned %v", err)
	}
}

func TestCustomCommandTokens(t *testing.T) {
	f := newFixture(t, producers(1), Options{StartCommand: "start", StopCommand: "stop"})
	f.listener.HandleCommand(context.Background(), "start")
	if f.listener.StateMachine().State() != Listening {
		t.Fatal("custom start token not honored")
	}
	f.listener.HandleCommand(context.Background(), "e_stop")
	if f.listener.StateMachine().State() != Listening {
		t.Fatal("default stop token should be ignored when overridden")
	}
	f.listener.HandleCommand(context.Background(), "stop")
	if f.listener.StateMachine().State() != Idle {
		t.Fatal("custom stop token not honored")
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "IDLE" || Listening.String() != "LISTENING" || State(9).String() != "UNKNOWN" {
		t.Error("unexpected State strings")
	}
}
