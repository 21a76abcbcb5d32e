package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/betelgo/betelbroker/internal/config"
	"github.com/betelgo/betelbroker/internal/logging"
	"github.com/betelgo/betelbroker/internal/rpc"
	"github.com/betelgo/betelbroker/internal/session"
	"github.com/betelgo/betelbroker/internal/topic"
)

func startTestBroker(t *testing.T) (*Broker, func()) {
	t.Helper()
	cfg := &config.BrokerConfig{Port: "127.0.0.1:0", Protocol: "tcp", Codec: "json"}
	log := logging.New(new(bytes.Buffer), new(bytes.Buffer), "broker", false)
	catalog := map[string]topic.Validator{
		"cmd":   topic.NewEnumValidator(1, "h", "j", "k", "l", "s"),
		"sense": topic.AnyValidator{},
	}
	b := New(cfg, catalog, log)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		ln, err := net.Listen("tcp", cfg.Port)
		if err != nil {
			t.Errorf("listen: %v", err)
			close(ready)
			return
		}
		b.mu.Lock()
		b.listener = ln
		b.mu.Unlock()
		close(ready)

		go func() {
			<-ctx.Done()
			ln.Close()
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.handleConnection(conn)
		}
	}()
	<-ready

	return b, cancel
}

func dialSession(t *testing.T, addr net.Addr, id string) *session.Session {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := session.New(conn, id)
	go s.Run()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubscribeThenPublishFansOut(t *testing.T) {
	b, cancel := startTestBroker(t)
	defer cancel()

	sub := dialSession(t, b.Addr(), "subscriber")
	pub := dialSession(t, b.Addr(), "publisher")

	notified := make(chan *rpc.Message, 1)
	sub.Handle("notifysub", func(s *session.Session, msg *rpc.Message) []byte {
		notified <- msg
		return nil
	})

	if err := sub.Notify("subscribe", "cmd"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the broker register the subscription

	if err := pub.Notify("publish", "cmd", "h"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-notified:
		var gotTopic, gotValue string
		if err := msg.Param(0, &gotTopic); err != nil || gotTopic != "cmd" {
			t.Fatalf("notifysub topic = %v, err %v", gotTopic, err)
		}
		if err := msg.Param(1, &gotValue); err != nil || gotValue != "h" {
			t.Fatalf("notifysub value = %v, err %v", gotValue, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notifysub")
	}
}

func TestInvalidPublishIsDroppedSilently(t *testing.T) {
	b, cancel := startTestBroker(t)
	defer cancel()

	sub := dialSession(t, b.Addr(), "subscriber")
	pub := dialSession(t, b.Addr(), "publisher")

	notified := make(chan struct{}, 1)
	sub.Handle("notifysub", func(s *session.Session, msg *rpc.Message) []byte {
		notified <- struct{}{}
		return nil
	})

	sub.Notify("subscribe", "cmd")
	time.Sleep(50 * time.Millisecond)

	pub.Notify("publish", "cmd", "bogus-direction")

	select {
	case <-notified:
		t.Fatal("expected no notification for invalid publish")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRegisterThenLocateRoundTrip(t *testing.T) {
	b, cancel := startTestBroker(t)
	defer cancel()

	provider := dialSession(t, b.Addr(), "provider")
	caller := dialSession(t, b.Addr(), "caller")

	done := make(chan *rpc.Message, 1)
	provider.Request("register", func(msg *rpc.Message) { done <- msg }, "gripper.open", 9100, "10.0.0.9")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for register response")
	}

	located := make(chan *rpc.Message, 1)
	caller.Request("locate", func(msg *rpc.Message) { located <- msg }, "gripper.open")

	select {
	case msg := <-located:
		if msg.Error != nil {
			t.Fatalf("locate returned error: %v", msg.Error)
		}
		var port int
		var host string
		json.Unmarshal(msg.Result[0], &port)
		json.Unmarshal(msg.Result[1], &host)
		if port != 9100 || host != "10.0.0.9" {
			t.Errorf("locate = (%d, %s), want (9100, 10.0.0.9)", port, host)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for locate response")
	}
}

func TestLocateMissReturnsMethodNotFound(t *testing.T) {
	b, cancel := startTestBroker(t)
	defer cancel()

	caller := dialSession(t, b.Addr(), "caller")
	located := make(chan *rpc.Message, 1)
	caller.Request("locate", func(msg *rpc.Message) { located <- msg }, "nonexistent.method")

	select {
	case msg := <-located:
		if msg.Error == nil || msg.Error.Code != rpc.CodeMethodNotFound {
			t.Fatalf("Error = %+v, want CodeMethodNotFound", msg.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestServiceRecordRemovedOnProviderDisconnect(t *testing.T) {
	b, cancel := startTestBroker(t)
	defer cancel()

	provider := dialSession(t, b.Addr(), "provider")
	caller := dialSession(t, b.Addr(), "caller")

	done := make(chan *rpc.Message, 1)
	provider.Request("register", func(msg *rpc.Message) { done <- msg }, "gripper.open", 9100, "10.0.0.9")
	<-done

	provider.Close()
	time.Sleep(50 * time.Millisecond) // let the close hook run

	located := make(chan *rpc.Message, 1)
	caller.Request("locate", func(msg *rpc.Message) { located <- msg }, "gripper.open")

	select {
	case msg := <-located:
		if msg.Error == nil || msg.Error.Code != rpc.CodeMethodNotFound {
			t.Fatalf("expected locate to miss after provider disconnect, got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
