package service_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scorepipe/scorepipe/internal/adapters/balancer"
	"github.com/scorepipe/scorepipe/internal/adapters/persistence"
	service "github.com/scorepipe/scorepipe/internal/app"
	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/internal/domain/protocol"
	"github.com/scorepipe/scorepipe/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// newTestService binds listeners on ephemeral ports and ticks fast so tests
// observe analytics quickly.
func newTestService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithListeners([]string{"127.0.0.1:0"}),
		service.WithWorkerCount(4),
		service.WithAnalytics(20*time.Millisecond, 16),
	}
	return service.New(append(base, opts...)...)
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(8),
			service.WithQueueSize(50_000),
			service.WithStrategy(balancer.StrategyLeastConnections),
			service.WithCachePolicy(1000, 10*time.Second, time.Second),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newTestService()
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
			})

			Convey("And stopping marks it stopped", func() {
				So(err, ShouldBeNil)
				svc.Stop()
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
			})
		})
	})

	Convey("Given a service with an unknown strategy", t, func() {
		svc := service.New(service.WithStrategy("coin_flip"))

		Convey("Then starting fails", func() {
			err := svc.Start(context.Background())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestService_PointEventFlow(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := newTestService()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		sub, cancelSub := svc.Subscribe("test")
		defer cancelSub()

		Convey("When pushing a point event for match M1, athlete A1, value 2", func() {
			event := protocol.Decode([]byte("pt;m=M1;a=A1;v=2;seq=1"))
			So(svc.Enqueue(ctx, event), ShouldBeTrue)

			Convey("Then a subscriber receives the same event", func() {
				select {
				case got := <-sub:
					So(got.ID, ShouldEqual, event.ID)
					So(got.Type, ShouldEqual, model.EventPoint)
					So(got.Status, ShouldEqual, model.StatusRecognized)
				case <-time.After(2 * time.Second):
					t.Fatal("timed out waiting for broadcast")
				}

				Convey("And the match scope cache reflects the event", func() {
					deadline := time.Now().Add(2 * time.Second)
					for {
						if cached, ok := svc.CacheGet(ctx, "match/M1/athlete/A1", string(model.EventPoint)); ok {
							So(cached.Fields["v"], ShouldEqual, "2")
							break
						}
						if time.Now().After(deadline) {
							t.Fatal("timed out waiting for cache update")
						}
						time.Sleep(5 * time.Millisecond)
					}
				})

				Convey("And the event is persisted", func() {
					deadline := time.Now().Add(2 * time.Second)
					for {
						events, err := svc.Store().QueryByMatch(ctx, "M1")
						So(err, ShouldBeNil)
						if len(events) == 1 {
							So(events[0].AthleteID, ShouldEqual, "A1")
							break
						}
						if time.Now().After(deadline) {
							t.Fatal("timed out waiting for persist")
						}
						time.Sleep(5 * time.Millisecond)
					}
				})
			})
		})
	})
}

func TestService_UnknownEventFlow(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := newTestService()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When pushing a payload with unknown event code zz9", func() {
			event := protocol.Decode([]byte("zz9;m=M1;x=1"))
			So(event.Status, ShouldEqual, model.StatusUnknown)
			So(svc.Enqueue(ctx, event), ShouldBeTrue)

			Convey("Then the raw record is still persisted", func() {
				deadline := time.Now().Add(2 * time.Second)
				for {
					events, err := svc.Store().QueryByMatch(ctx, "M1")
					So(err, ShouldBeNil)
					if len(events) == 1 {
						So(events[0].Status, ShouldEqual, model.StatusUnknown)
						So(string(events[0].Raw), ShouldEqual, "zz9;m=M1;x=1")
						break
					}
					if time.Now().After(deadline) {
						t.Fatal("timed out waiting for persist")
					}
					time.Sleep(5 * time.Millisecond)
				}
			})
		})
	})
}

func TestService_NodeHealthFlow(t *testing.T) {
	Convey("Given a started service with two listeners", t, func() {
		svc := newTestService(service.WithListeners([]string{"127.0.0.1:0", "127.0.0.1:0"}))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		d := svc.Distributor()

		Convey("When marking all nodes unhealthy", func() {
			So(d.Heartbeat(ctx, "node-0", false), ShouldBeNil)
			So(d.Heartbeat(ctx, "node-1", false), ShouldBeNil)

			Convey("Then selection fails with no available node", func() {
				_, err := d.Select(ctx, "M1")
				So(err, ShouldEqual, balancer.ErrNoAvailableNode)

				Convey("And restoring one node makes it selectable again", func() {
					So(d.Heartbeat(ctx, "node-1", true), ShouldBeNil)
					n, err := d.Select(ctx, "M1")
					So(err, ShouldBeNil)
					So(n.ID(), ShouldEqual, balancer.NodeID("node-1"))
					d.RecordResult(n.ID(), balancer.OutcomeSuccess)
				})
			})
		})
	})
}

func TestService_AnalyticsFlow(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := newTestService()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When pushing five points and one warning for match M1", func() {
			payloads := []string{
				"pt;m=M1;a=A1;v=2;seq=1",
				"pt;m=M1;a=A1;v=3;seq=2",
				"pt;m=M1;a=A2;v=1;seq=3",
				"pt;m=M1;a=A2;v=2;seq=4",
				"pt;m=M1;a=A1;v=1;seq=5",
				"wg;m=M1;a=A2;seq=6",
			}
			for _, p := range payloads {
				So(svc.Enqueue(ctx, protocol.Decode([]byte(p))), ShouldBeTrue)
			}

			Convey("Then a tick produces a snapshot with correct totals", func() {
				deadline := time.Now().Add(3 * time.Second)
				for {
					s, ok := svc.Latest("match/M1")
					if ok && s.TotalEvents == 6 {
						So(s.Points["A1"], ShouldEqual, 6)
						So(s.Points["A2"], ShouldEqual, 3)
						So(s.Warnings["A2"], ShouldEqual, 1)
						break
					}
					if time.Now().After(deadline) {
						t.Fatal("timed out waiting for analytics snapshot")
					}
					time.Sleep(10 * time.Millisecond)
				}

				Convey("And history is retrievable most recent first", func() {
					history := svc.History("match/M1", 0)
					So(len(history), ShouldBeGreaterThan, 0)
					So(history[0].TotalEvents, ShouldEqual, 6)
				})
			})
		})
	})
}

// countingStore persists with a fixed delay and counts completed and
// canceled writes.
type countingStore struct {
	*persistence.MemoryStore
	delay     time.Duration
	completed atomic.Int64
	canceled  atomic.Int64
}

func (s *countingStore) UpsertEvent(ctx context.Context, e model.DecodedEvent) error {
	select {
	case <-ctx.Done():
		s.canceled.Add(1)
		return ctx.Err()
	case <-time.After(s.delay):
	}
	if err := s.MemoryStore.UpsertEvent(ctx, e); err != nil {
		return err
	}
	s.completed.Add(1)
	return nil
}

func TestService_StopDrainsPipeline(t *testing.T) {
	Convey("Given a started service with a slow store and buffered events", t, func() {
		store := &countingStore{
			MemoryStore: persistence.NewMemoryStore(),
			delay:       20 * time.Millisecond,
		}
		svc := newTestService(
			service.WithStore(store),
			service.WithWorkerCount(1),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		for i := 0; i < 10; i++ {
			payload := fmt.Sprintf("pt;m=M1;a=A1;v=2;seq=%d", i+1)
			So(svc.Enqueue(ctx, protocol.Decode([]byte(payload))), ShouldBeTrue)
		}

		Convey("When stopping the service while events are still buffered", func() {
			svc.Stop()

			Convey("Then every buffered event is persisted and no write is canceled mid-flight", func() {
				So(store.completed.Load(), ShouldEqual, 10)
				So(store.canceled.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestService_GetStats(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := newTestService()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then stats expose the pipeline view", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats, ShouldContainKey, "queue_length")
			So(stats, ShouldContainKey, "cache")
			So(stats, ShouldContainKey, "distributor")
			So(stats, ShouldContainKey, "events_stored")
		})
	})
}
