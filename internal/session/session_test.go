package session

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/betelgo/betelbroker/internal/rpc"
)

func pipePair(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	sa := New(a, "a")
	sb := New(b, "b")
	go sa.Run()
	go sb.Run()
	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

func TestRequestResponseRoundTrip(t *testing.T) {
	client, server := pipePair(t)

	server.Handle("echo", func(s *Session, msg *rpc.Message) []byte {
		var word string
		_ = msg.Param(0, &word)
		resp, _ := rpc.EncodeResponse(msg.ID, word)
		return resp
	})

	done := make(chan *rpc.Message, 1)
	_, err := client.Request("echo", func(msg *rpc.Message) {
		done <- msg
	}, "hello")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	select {
	case msg := <-done:
		var word string
		if err := json.Unmarshal(msg.Result[0], &word); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		if word != "hello" {
			t.Errorf("result = %q, want hello", word)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestNotificationDispatch(t *testing.T) {
	client, server := pipePair(t)

	received := make(chan []byte, 1)
	server.Handle("publish", func(s *Session, msg *rpc.Message) []byte {
		received <- []byte(msg.Method)
		return nil
	})

	if err := client.Notify("publish", "cmd", "h"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification dispatch")
	}
}

func TestUnknownMethodRequestGetsMethodNotFound(t *testing.T) {
	client, _ := pipePair(t)

	done := make(chan *rpc.Message, 1)
	_, err := client.Request("nonexistent", func(msg *rpc.Message) {
		done <- msg
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	select {
	case msg := <-done:
		if msg.Error == nil || msg.Error.Code != rpc.CodeMethodNotFound {
			t.Fatalf("Error = %+v, want CodeMethodNotFound", msg.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestCloseIsIdempotentAndRunsHooksOnce(t *testing.T) {
	a, _ := net.Pipe()
	s := New(a, "x")

	count := 0
	s.OnClose(func() { count++ })

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if count != 1 {
		t.Errorf("close hook ran %d times, want 1", count)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want StateClosed", s.State())
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	a, _ := net.Pipe()
	s := New(a, "x")
	s.Close()

	if err := s.Write([]byte("{}")); err == nil {
		t.Fatal("expected error writing to closed session")
	}
}

func TestPendingResponseDiscardedOnClose(t *testing.T) {
	client, server := pipePair(t)
	server.Handle("slow", func(s *Session, msg *rpc.Message) []byte { return nil })

	invoked := make(chan struct{}, 1)
	_, err := client.Request("slow", func(msg *rpc.Message) {
		invoked <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	// Server never answers; close the client session and verify the
	// handler is simply discarded, never invoked.
	client.Close()
	server.Close()

	select {
	case <-invoked:
		t.Fatal("response handler should not be invoked after close")
	case <-time.After(200 * time.Millisecond):
	}
}
