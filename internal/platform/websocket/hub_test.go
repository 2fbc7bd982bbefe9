package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/events"
)

const doctorTopic = "opd/doctor/6f9c1f0e-3c55-4c1b-9a47-5d2d2b5b8a01"

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient([]string{doctorTopic})

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(doctorTopic) != 1 {
		t.Fatalf("expected 1 client on topic, got %d/%d", hub.ClientCount(), hub.TopicCount(doctorTopic))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(doctorTopic) != 0 {
		t.Fatal("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send to be closed")
	}

	// A second unregister must not panic on the closed channel.
	hub.Unregister(client)
}

func TestHub_PublishOnlyToSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := newClient([]string{doctorTopic})
	other := newClient([]string{"opd/doctor/other"})
	hub.Register(subscriber)
	hub.Register(other)

	err := hub.Publish(context.Background(), events.Event{
		Type:         "opd.checked_in",
		Topic:        doctorTopic,
		ResourceType: "OPDQueueEntry",
		ResourceID:   "entry-1",
		Timestamp:    time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-subscriber.Send:
		var got events.Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if got.Type != "opd.checked_in" || got.ResourceID != "entry-1" {
			t.Errorf("unexpected event: %+v", got)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("non-subscriber should not receive the event")
	default:
	}
}

func TestHub_PublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient([]string{doctorTopic})
	hub.Register(client)

	for i := 0; i < sendBuffer+10; i++ {
		hub.Publish(context.Background(), events.Event{Topic: doctorTopic})
	}
	if len(client.Send) != sendBuffer {
		t.Errorf("expected buffer to hold %d events, got %d", sendBuffer, len(client.Send))
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(nil)
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{doctorTopic, doctorTopic, "Patient/1"}})
	if hub.TopicCount(doctorTopic) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(doctorTopic))
	}
	if len(client.Topics) != 1 {
		t.Errorf("expected duplicate and non-opd topics to be ignored, got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{doctorTopic}})
	if hub.TopicCount(doctorTopic) != 0 || len(client.Topics) != 0 {
		t.Errorf("expected no subscriptions, got %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient([]string{doctorTopic})
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), events.Event{Topic: doctorTopic})
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://board.local"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	if !check(req) {
		t.Error("requests without Origin should pass")
	}
	req.Header.Set("Origin", "http://board.local")
	if !check(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "http://evil.example")
	if check(req) {
		t.Error("unknown origin accepted")
	}
	if !originChecker([]string{"*"})(req) {
		t.Error("wildcard should accept any origin")
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())
	h := NewHandler(NewHub(zerolog.Nop()), nil, zerolog.Nop())
	if err := h.HandleConnect(c); err == nil {
		t.Fatal("expected upgrade error for a non-websocket request")
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, nil, zerolog.Nop()).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=" + doctorTopic
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(doctorTopic) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(context.Background(), events.Event{Type: "opd.status_changed", Topic: doctorTopic, ResourceID: "entry-7"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Type != "opd.status_changed" || got.ResourceID != "entry-7" {
		t.Errorf("unexpected event: %+v", got)
	}
}
