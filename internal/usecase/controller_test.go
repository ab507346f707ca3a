package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/keeper/internal/domain"
)

func TestController(t *testing.T) {
	Convey("Given persisted instances and monitors", t, func() {
		ctx := context.Background()
		tempDir, err := os.MkdirTemp("", "controller_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		h := newHarness(filepath.Join(tempDir, "data"), &fakeArchiver{})
		defer h.close()

		for _, inst := range []domain.BackupInstance{
			{ID: "i1", Name: "world", SourcePath: tempDir, TargetPath: tempDir, Interval: "daily", MaxBackups: 1},
			{ID: "i2", Name: "nether", SourcePath: tempDir, TargetPath: tempDir, Interval: "not a cron", MaxBackups: 1},
			{ID: "i3", Name: "end", SourcePath: tempDir, TargetPath: tempDir, Interval: "*/30 * * * *", MaxBackups: 1},
		} {
			So(h.store.PutInstance(ctx, inst), ShouldBeNil)
		}
		So(h.store.PutMonitor(ctx, domain.UptimeMonitor{ID: "m1", Name: "ssh", Host: "127.0.0.1", Port: 22, Protocol: domain.ProtocolTCP, Interval: 60}), ShouldBeNil)

		Convey("When everything is reloaded", func() {
			err := h.controller.ReloadAll(ctx)

			Convey("A broken trigger should not stop the others", func() {
				So(err, ShouldBeNil)
				So(h.sched.Has("backup:i1"), ShouldBeTrue)
				So(h.sched.Has("backup:i2"), ShouldBeFalse)
				So(h.sched.Has("backup:i3"), ShouldBeTrue)
				So(h.sched.Has("monitor:m1"), ShouldBeTrue)
				So(h.sched.Len(), ShouldEqual, 3)
			})

			Convey("Each monitor should get an immediate first probe", func() {
				So(eventually(func() bool { return h.prober.count("m1") == 1 }), ShouldBeTrue)
				So(eventually(func() bool { return h.uptime.State("m1").Status == domain.StatusUp }), ShouldBeTrue)
			})

			Convey("And an instance is removed behind the controller's back", func() {
				So(h.store.DeleteInstance(ctx, "i1"), ShouldBeNil)
				So(h.controller.ReloadInstances(ctx), ShouldBeNil)

				Convey("Its job should be cancelled and the rest kept", func() {
					So(h.sched.Has("backup:i1"), ShouldBeFalse)
					So(h.sched.Has("backup:i3"), ShouldBeTrue)
					So(h.sched.Has("monitor:m1"), ShouldBeTrue)
				})
			})

			Convey("And a monitor is removed behind the controller's back", func() {
				So(h.store.DeleteMonitor(ctx, "m1"), ShouldBeNil)
				So(h.controller.ReloadMonitors(ctx), ShouldBeNil)

				Convey("Its job and state should be dropped", func() {
					So(h.sched.Has("monitor:m1"), ShouldBeFalse)
					So(h.sched.Has("backup:i1"), ShouldBeTrue)
				})
			})

			Convey("And reloaded again", func() {
				So(h.controller.ReloadAll(ctx), ShouldBeNil)

				Convey("No job should be duplicated", func() {
					So(h.sched.Len(), ShouldEqual, 3)
				})
			})
		})
	})
}

func TestMonitorScheduling(t *testing.T) {
	Convey("Given a running scheduler", t, func() {
		ctx := context.Background()
		tempDir, err := os.MkdirTemp("", "monitor_schedule_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		h := newHarness(filepath.Join(tempDir, "data"), &fakeArchiver{})
		defer h.close()
		h.sched.Start()

		m, err := h.monitors.Add(ctx, domain.MonitorInput{Name: "web", Host: "localhost", Port: 8080, Protocol: domain.ProtocolHTTP, Interval: 1})
		So(err, ShouldBeNil)

		Convey("When the monitor is deleted", func() {
			time.Sleep(1500 * time.Millisecond)
			So(h.monitors.Delete(ctx, m.ID), ShouldBeNil)
			time.Sleep(100 * time.Millisecond)

			before, _ := h.store.History(ctx, m.ID)
			time.Sleep(2500 * time.Millisecond)
			after, _ := h.store.History(ctx, m.ID)

			Convey("No new history entries should appear", func() {
				So(len(before), ShouldBeGreaterThanOrEqualTo, 2)
				So(len(after), ShouldEqual, len(before))
				So(h.sched.Has("monitor:"+m.ID), ShouldBeFalse)
			})
		})

		Convey("When the monitor is rescheduled to a long interval", func() {
			So(eventually(func() bool { return h.prober.count(m.ID) >= 1 }), ShouldBeTrue)

			_, err := h.monitors.Update(ctx, m.ID, domain.MonitorInput{Name: "web", Host: "localhost", Port: 8080, Protocol: domain.ProtocolHTTP, Interval: 1000})
			So(err, ShouldBeNil)
			time.Sleep(200 * time.Millisecond)
			settled := h.prober.count(m.ID)

			time.Sleep(2500 * time.Millisecond)

			Convey("Only the new trigger should remain", func() {
				So(h.prober.count(m.ID), ShouldEqual, settled)
				next, ok := h.sched.Next("monitor:" + m.ID)
				So(ok, ShouldBeTrue)
				So(next.After(time.Now().Add(900*time.Second)), ShouldBeTrue)
			})
		})
	})
}

func TestControllerWait(t *testing.T) {
	Convey("Given a slow first probe", t, func() {
		ctx := context.Background()
		tempDir, err := os.MkdirTemp("", "controller_wait_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		h := newHarness(filepath.Join(tempDir, "data"), &fakeArchiver{})
		defer h.close()
		h.prober.delay = 300 * time.Millisecond

		m := domain.UptimeMonitor{ID: "m1", Name: "ssh", Host: "127.0.0.1", Port: 22, Protocol: domain.ProtocolTCP, Interval: 60}
		So(h.controller.ScheduleMonitor(m), ShouldBeNil)

		Convey("Wait should return only after it has been recorded", func() {
			h.controller.Wait()

			entries, err := h.store.History(ctx, "m1")
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
			So(h.uptime.State("m1").Status, ShouldEqual, domain.StatusUp)
		})
	})
}
