package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cryguy/taskworker/internal/core"
)

// echoMain replies to every message with the message itself.
func echoMain(ctx context.Context, scope core.Scope) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-scope.Messages():
			if !ok {
				return
			}
			scope.PostMessage(msg)
		}
	}
}

func next(t *testing.T, port core.Port) ([]byte, bool) {
	t.Helper()
	select {
	case msg, ok := <-port.Messages():
		return msg, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	return nil, false
}

func TestLocal_SpawnByFileName(t *testing.T) {
	h := NewLocal()
	h.Register("echo-worker.js", echoMain)

	port, err := h.Spawn("assets/build/echo-worker.js")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { port.Terminate() })

	for _, m := range []string{"a", "b", "c"} {
		if err := port.PostMessage([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		msg, ok := next(t, port)
		if !ok || string(msg) != want {
			t.Fatalf("got %q, want %q", msg, want)
		}
	}
}

func TestLocal_UnknownURL(t *testing.T) {
	h := NewLocal()
	if _, err := h.Spawn("missing-worker.js"); !errors.Is(err, core.ErrUnknownURL) {
		t.Errorf("err = %v, want ErrUnknownURL", err)
	}
}

func TestLocal_Loader(t *testing.T) {
	loaded := ""
	h := NewLocal(
		WithLoader(func(url string) (core.WorkerMain, error) { return nil, core.ErrUnknownURL }),
		WithLoader(func(url string) (core.WorkerMain, error) {
			loaded = url
			return echoMain, nil
		}),
	)
	port, err := h.Spawn("scripts/custom.js")
	if err != nil {
		t.Fatal(err)
	}
	port.Terminate()
	if loaded != "scripts/custom.js" {
		t.Errorf("second loader saw %q", loaded)
	}

	boom := errors.New("bad script")
	h = NewLocal(WithLoader(func(string) (core.WorkerMain, error) { return nil, boom }))
	if _, err := h.Spawn("x.js"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want loader error", err)
	}
}

func TestTerminate(t *testing.T) {
	stopped := make(chan struct{})
	port := Run(func(ctx context.Context, scope core.Scope) {
		<-ctx.Done()
		close(stopped)
	}, nil)

	if err := port.Terminate(); err != nil {
		t.Fatal(err)
	}
	if err := port.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker context not cancelled")
	}
	if _, ok := next(t, port); ok {
		t.Error("messages channel still open")
	}
	if err := port.PostMessage([]byte("x")); !errors.Is(err, core.ErrPortClosed) {
		t.Errorf("PostMessage after Terminate = %v", err)
	}
}

func TestRun_PanicReported(t *testing.T) {
	port := Run(func(ctx context.Context, scope core.Scope) {
		panic("worker exploded")
	}, nil)

	select {
	case err := <-port.Errors():
		if err == nil {
			t.Fatal("nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic not reported")
	}
	if _, ok := next(t, port); ok {
		t.Error("port should close after the worker dies")
	}
}

func TestMailbox_NeverBlocks(t *testing.T) {
	m := NewMailbox()
	defer m.Close()
	for i := 0; i < 1000; i++ {
		if err := m.Put([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 1000; i++ {
		msg := <-m.C()
		if msg[0] != byte(i) {
			t.Fatalf("message %d out of order: %d", i, msg[0])
		}
	}
}

type stubHost struct{ urls []string }

func (s *stubHost) Spawn(url string) (core.Port, error) {
	s.urls = append(s.urls, url)
	return Run(echoMain, nil), nil
}

func TestRouter(t *testing.T) {
	local, remote := &stubHost{}, &stubHost{}
	r := NewRouter(local)
	r.Handle("ws", remote)
	r.Handle("WSS", remote)

	for _, url := range []string{"ws://h/a.js", "wss://h/b.js", "assets/c.js", "file:///d.js"} {
		port, err := r.Spawn(url)
		if err != nil {
			t.Fatal(err)
		}
		port.Terminate()
	}
	if len(remote.urls) != 2 || len(local.urls) != 2 {
		t.Errorf("remote=%v local=%v", remote.urls, local.urls)
	}

	if _, err := NewRouter(nil).Spawn("x.js"); !errors.Is(err, core.ErrUnknownURL) {
		t.Errorf("err = %v", err)
	}
}
