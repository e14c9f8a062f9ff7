package balancer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scorepipe/scorepipe/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestDistributor_AddAndSelect(t *testing.T) {
	d := New()
	ctx := context.Background()

	if _, err := d.AddNode(ctx, "n1", "127.0.0.1:9001", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := d.AddNode(ctx, "n2", "127.0.0.1:9002", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	n, err := d.Select(ctx, "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if n.OpenConns() != 1 {
		t.Errorf("expected select to open one unit of work, got %d", n.OpenConns())
	}

	d.RecordResult(n.ID(), OutcomeSuccess)
	if n.OpenConns() != 0 {
		t.Errorf("expected open conns back to 0, got %d", n.OpenConns())
	}
	if n.Processed() != 1 {
		t.Errorf("expected processed 1, got %d", n.Processed())
	}
}

func TestDistributor_DuplicateNode(t *testing.T) {
	d := New()
	ctx := context.Background()

	if _, err := d.AddNode(ctx, "n1", "127.0.0.1:9001", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := d.AddNode(ctx, "n1", "127.0.0.1:9009", 1); !errors.Is(err, ErrNodeExists) {
		t.Errorf("expected ErrNodeExists, got %v", err)
	}
}

func TestDistributor_AllUnhealthy(t *testing.T) {
	d := New()
	ctx := context.Background()

	n1, _ := d.AddNode(ctx, "n1", "127.0.0.1:9001", 1)
	n2, _ := d.AddNode(ctx, "n2", "127.0.0.1:9002", 1)
	n1.SetHealthy(false)
	n2.SetHealthy(false)

	if _, err := d.Select(ctx, ""); !errors.Is(err, ErrNoAvailableNode) {
		t.Errorf("expected ErrNoAvailableNode, got %v", err)
	}

	// Restoring one node's health makes it immediately selectable again.
	if err := d.Heartbeat(ctx, "n2", true); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	n, err := d.Select(ctx, "")
	if err != nil {
		t.Fatalf("select after restore failed: %v", err)
	}
	if n.ID() != "n2" {
		t.Errorf("expected restored node n2, got %s", n.ID())
	}
}

func TestDistributor_UnhealthyExcludedNotRemoved(t *testing.T) {
	d := New()
	ctx := context.Background()

	n1, _ := d.AddNode(ctx, "n1", "127.0.0.1:9001", 1)
	d.AddNode(ctx, "n2", "127.0.0.1:9002", 1)
	n1.SetHealthy(false)

	for i := 0; i < 5; i++ {
		n, err := d.Select(ctx, "")
		if err != nil {
			t.Fatalf("select failed: %v", err)
		}
		if n.ID() == "n1" {
			t.Error("unhealthy node must not be selected")
		}
		d.RecordResult(n.ID(), OutcomeSuccess)
	}

	// Still registered.
	if _, err := d.Node("n1"); err != nil {
		t.Errorf("unhealthy node should stay registered: %v", err)
	}
}

func TestDistributor_RemoveNodeDrains(t *testing.T) {
	d := New(WithDrainTimeout(200 * time.Millisecond))
	ctx := context.Background()

	d.AddNode(ctx, "n1", "127.0.0.1:9001", 1)
	n, err := d.Select(ctx, "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}

	// Finish the in-flight unit shortly after removal starts.
	go func() {
		time.Sleep(50 * time.Millisecond)
		d.RecordResult(n.ID(), OutcomeSuccess)
	}()

	if err := d.RemoveNode(ctx, "n1"); err != nil {
		t.Errorf("expected clean drain, got %v", err)
	}
	if _, err := d.Node("n1"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected node gone, got %v", err)
	}
}

func TestDistributor_RemoveNodeDrainTimeout(t *testing.T) {
	d := New(WithDrainTimeout(50 * time.Millisecond))
	ctx := context.Background()

	d.AddNode(ctx, "n1", "127.0.0.1:9001", 1)
	if _, err := d.Select(ctx, ""); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	// Work never completes: removal proceeds but reports the timeout.
	err := d.RemoveNode(ctx, "n1")
	if !errors.Is(err, ErrDrainTimeout) {
		t.Errorf("expected ErrDrainTimeout, got %v", err)
	}
	if _, err := d.Node("n1"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected node removed despite timeout, got %v", err)
	}
}

func TestDistributor_SetStrategy(t *testing.T) {
	d := New()
	ctx := context.Background()
	d.AddNode(ctx, "n1", "127.0.0.1:9001", 1)

	d.SetStrategy(NewLeastConnections())
	if got := d.Stats().Strategy; got != StrategyLeastConnections {
		t.Errorf("expected least_connections, got %s", got)
	}

	n, err := d.Select(ctx, "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	d.RecordResult(n.ID(), OutcomeFailure)
	if n.Failures() != 1 {
		t.Errorf("expected failure recorded, got %d", n.Failures())
	}
}

func TestDistributor_Stats(t *testing.T) {
	d := New()
	ctx := context.Background()
	d.AddNode(ctx, "n1", "127.0.0.1:9001", 2)
	d.AddNode(ctx, "n2", "127.0.0.1:9002", 1)

	stats := d.Stats()
	if len(stats.Nodes) != 2 {
		t.Fatalf("expected 2 node stats, got %d", len(stats.Nodes))
	}
	if stats.Nodes[0].ID != "n1" || stats.Nodes[0].Weight != 2 {
		t.Errorf("unexpected first node stats: %+v", stats.Nodes[0])
	}
	if !stats.Nodes[0].Healthy {
		t.Error("expected new node healthy")
	}
}
