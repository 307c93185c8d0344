package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tributolabs/tributo/internal/adapters/notify"
	"github.com/tributolabs/tributo/internal/domain/model"
)

func TestDelivery(t *testing.T) {
	Convey("Given a running bus with one listener", t, func() {
		bus := notify.NewBus(notify.WithWorkers(2))

		var mu sync.Mutex
		var got []model.Notification
		bus.Subscribe(func(_ context.Context, n model.Notification) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, n)
		})
		bus.Start(context.Background())

		Convey("When publishing notifications", func() {
			for i := 0; i < 5; i++ {
				bus.Publish(context.Background(), model.Notification{
					Kind:      model.NotifyProfileUpdated,
					SessionID: "s1",
				})
			}
			bus.Stop()

			Convey("Then every notification reaches the listener with an id and timestamp", func() {
				mu.Lock()
				defer mu.Unlock()
				So(len(got), ShouldEqual, 5)
				for _, n := range got {
					So(n.ID, ShouldNotBeEmpty)
					So(n.At.IsZero(), ShouldBeFalse)
				}
			})
		})
	})
}

func TestNonBlockingPublish(t *testing.T) {
	Convey("Given a bus with a tiny queue and no workers draining it", t, func() {
		bus := notify.NewBus(notify.WithQueueSize(1))
		// Not started: nothing consumes the queue.

		Convey("When publishing past capacity", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 10; i++ {
					bus.Publish(context.Background(), model.Notification{Kind: model.NotifyScoreComputed})
				}
			}()

			Convey("Then the publisher never blocks", func() {
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					t.Fatal("publish blocked on a full queue")
				}
			})
		})
	})
}

func TestListenerPanicIsolation(t *testing.T) {
	Convey("Given a bus with a panicking and a healthy listener", t, func() {
		bus := notify.NewBus(notify.WithWorkers(1))

		var mu sync.Mutex
		var delivered int
		bus.Subscribe(func(context.Context, model.Notification) { panic("boom") })
		bus.Subscribe(func(context.Context, model.Notification) {
			mu.Lock()
			defer mu.Unlock()
			delivered++
		})
		bus.Start(context.Background())

		Convey("When publishing", func() {
			bus.Publish(context.Background(), model.Notification{Kind: model.NotifyPlanGenerated})
			bus.Stop()

			Convey("Then the healthy listener still gets the notification", func() {
				mu.Lock()
				defer mu.Unlock()
				So(delivered, ShouldEqual, 1)
			})
		})
	})
}

func TestPublishDuringStop(t *testing.T) {
	Convey("Given a running bus under concurrent publish load", t, func() {
		bus := notify.NewBus(notify.WithWorkers(2), notify.WithQueueSize(16))
		bus.Start(context.Background())

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						bus.Publish(context.Background(), model.Notification{Kind: model.NotifyComputationCompleted})
					}
				}
			}()
		}

		Convey("When stopping while publishers are still active", func() {
			bus.Stop()
			close(stop)
			wg.Wait()

			Convey("Then no publish ever hits the closed queue", func() {
				So(func() {
					bus.Publish(context.Background(), model.Notification{Kind: model.NotifyComputationCompleted})
				}, ShouldNotPanic)
			})
		})
	})
}

func TestStopIsIdempotent(t *testing.T) {
	Convey("Given a running bus", t, func() {
		bus := notify.NewBus()
		bus.Start(context.Background())

		Convey("When stopping twice and publishing afterwards", func() {
			bus.Stop()
			bus.Stop()
			bus.Publish(context.Background(), model.Notification{Kind: model.NotifyScoreComputed})

			Convey("Then nothing panics and the publish is dropped silently", func() {
				So(true, ShouldBeTrue)
			})
		})
	})
}
