package messaging

import (
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// openNATS connects to a local NATS server, skipping the test when none is
// available.
func openNATS(t *testing.T) *Client {
	t.Helper()

	cfg := DefaultConfig()
	if url := os.Getenv("TEST_NATS_URL"); url != "" {
		cfg.URL = url
	}
	cfg.Name = "tutorlink-test"
	cfg.MaxReconnects = 0

	client, err := NewClient(cfg)
	if err != nil {
		t.Skipf("skipping: nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClient_PublishSubscribe(t *testing.T) {
	client := openNATS(t)

	received := make(chan []byte, 1)
	if err := client.Subscribe(SubjectMatchFound+".guest-1", func(msg *nats.Msg) {
		received <- msg.Data
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := client.PublishMatchFound("guest-1", []byte(`{"chat_id":1}`)); err != nil {
		t.Fatalf("PublishMatchFound: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"chat_id":1}` {
			t.Errorf("received %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestClient_ReportProcessQueue(t *testing.T) {
	client := openNATS(t)

	received := make(chan []byte, 1)
	if err := client.SubscribeReportProcess(func(data []byte) {
		received <- data
	}); err != nil {
		t.Fatalf("SubscribeReportProcess: %v", err)
	}

	if err := client.PublishReportProcess([]byte(`{"report_id":7}`)); err != nil {
		t.Fatalf("PublishReportProcess: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"report_id":7}` {
			t.Errorf("received %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}
