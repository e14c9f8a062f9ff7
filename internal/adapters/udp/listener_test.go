package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/scorepipe/scorepipe/internal/adapters/balancer"
	"github.com/scorepipe/scorepipe/internal/adapters/mq/queue"
	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func waitAddr(t *testing.T, l *Listener) net.Addr {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if addr := l.Addr(); addr != nil {
			return addr
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sendDatagram(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func testNode(id balancer.NodeID) *balancer.Node {
	return balancer.NewNode(id, "127.0.0.1:0", 1)
}

func TestListener_DecodesAndEnqueues(t *testing.T) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(10))
	l := NewListener(testNode("n1"), q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	addr := waitAddr(t, l)
	sendDatagram(t, addr, "pt;t=T1;m=M1;a=A1;v=2;seq=7")

	var event model.DecodedEvent
	select {
	case event = <-q.Dequeue(ctx):
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded event")
	}

	if event.Type != model.EventPoint {
		t.Errorf("expected point event, got %s", event.Type)
	}
	if event.MatchID != "M1" || event.AthleteID != "A1" {
		t.Errorf("unexpected ids: match=%s athlete=%s", event.MatchID, event.AthleteID)
	}
	if event.SourceNode != "n1" {
		t.Errorf("expected source node n1, got %s", event.SourceNode)
	}
	if event.Seq != 7 {
		t.Errorf("expected seq 7, got %d", event.Seq)
	}
	if event.Status != model.StatusRecognized {
		t.Errorf("expected recognized, got %s", event.Status)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}

func TestListener_UnknownPayloadStillEnqueued(t *testing.T) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(10))
	l := NewListener(testNode("n1"), q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	addr := waitAddr(t, l)
	sendDatagram(t, addr, "zz9;m=M1;x=1")

	select {
	case event := <-q.Dequeue(ctx):
		if event.Status != model.StatusUnknown {
			t.Errorf("expected unknown status, got %s", event.Status)
		}
		if string(event.Raw) != "zz9;m=M1;x=1" {
			t.Errorf("expected raw payload retained, got %q", event.Raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestListener_RecordsNodeProcessed(t *testing.T) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(10))
	node := testNode("n1")
	l := NewListener(node, q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	addr := waitAddr(t, l)
	for i := 0; i < 3; i++ {
		sendDatagram(t, addr, "pt;m=M1;a=A1;v=2;seq=1")
	}

	deadline := time.Now().Add(2 * time.Second)
	for node.Processed() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 processed, got %d", node.Processed())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if node.Failures() != 0 {
		t.Errorf("expected no failures, got %d", node.Failures())
	}
}

func TestListener_RecordsFailureOnDrop(t *testing.T) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(10))
	node := testNode("n1")
	l := NewListener(node, q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	addr := waitAddr(t, l)

	// A closed queue rejects every enqueue, forcing the drop path.
	if err := q.Close(); err != nil {
		t.Fatalf("close queue: %v", err)
	}
	sendDatagram(t, addr, "pt;m=M1;a=A1;v=2;seq=1")

	deadline := time.Now().Add(2 * time.Second)
	for node.Failures() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected a recorded failure, got %d", node.Failures())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if node.Processed() != 0 {
		t.Errorf("expected no processed events, got %d", node.Processed())
	}
}

func TestSupervisor_RunsAndStopsAllListeners(t *testing.T) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(10))
	listeners := []*Listener{
		NewListener(testNode("n1"), q, nil),
		NewListener(testNode("n2"), q, nil),
	}
	s := NewSupervisor(listeners)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	for _, l := range listeners {
		waitAddr(t, l)
	}

	sendDatagram(t, listeners[0].Addr(), "wg;m=M1;a=A1")
	sendDatagram(t, listeners[1].Addr(), "wg;m=M1;a=A2")

	received := map[string]bool{}
	events := q.Dequeue(ctx)
	for len(received) < 2 {
		select {
		case e := <-events:
			received[e.SourceNode] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received from %v", received)
		}
	}
	if !received["n1"] || !received["n2"] {
		t.Errorf("expected events from both nodes, got %v", received)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
}
