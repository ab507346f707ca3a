package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/keeper/internal/adapter/storage"
	"github.com/semmidev/keeper/internal/domain"
)

func TestWatcher(t *testing.T) {
	Convey("Given a watcher over a json store directory", t, func() {
		ctx := context.Background()
		tempDir, err := os.MkdirTemp("", "watcher_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		store, err := storage.NewJSON(tempDir)
		So(err, ShouldBeNil)

		var instances, monitors int32
		w := New(tempDir, store, storage.FingerprintFile, WithDebounce(50*time.Millisecond))
		w.On(storage.InstancesFile, func(context.Context) error {
			atomic.AddInt32(&instances, 1)
			return nil
		})
		w.On(storage.MonitorsFile, func(context.Context) error {
			atomic.AddInt32(&monitors, 1)
			return nil
		})
		So(w.Start(ctx), ShouldBeNil)
		defer w.Stop()

		Convey("When the store writes its own file", func() {
			So(store.PutInstance(ctx, domain.BackupInstance{ID: "i1", Name: "world", MaxBackups: 1}), ShouldBeNil)
			time.Sleep(300 * time.Millisecond)

			Convey("No reload should be triggered", func() {
				So(atomic.LoadInt32(&instances), ShouldEqual, 0)
			})
		})

		Convey("When another process edits the instances file in a burst", func() {
			path := filepath.Join(tempDir, storage.InstancesFile)
			for i := 0; i < 5; i++ {
				So(os.WriteFile(path, []byte(`[{"id":"x","name":"edited"}]`), 0644), ShouldBeNil)
				time.Sleep(5 * time.Millisecond)
			}
			time.Sleep(300 * time.Millisecond)

			Convey("Exactly one reload should run for that file", func() {
				So(atomic.LoadInt32(&instances), ShouldEqual, 1)
				So(atomic.LoadInt32(&monitors), ShouldEqual, 0)
			})
		})

		Convey("When the monitors file is edited externally", func() {
			So(os.WriteFile(filepath.Join(tempDir, storage.MonitorsFile), []byte(`[]`+"\n"), 0644), ShouldBeNil)
			time.Sleep(300 * time.Millisecond)

			Convey("Its handler should run", func() {
				So(atomic.LoadInt32(&monitors), ShouldEqual, 1)
			})
		})

		Convey("When an unrelated file changes", func() {
			So(os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("hi"), 0644), ShouldBeNil)
			time.Sleep(300 * time.Millisecond)

			Convey("Nothing should be reloaded", func() {
				So(atomic.LoadInt32(&instances), ShouldEqual, 0)
				So(atomic.LoadInt32(&monitors), ShouldEqual, 0)
			})
		})
	})
}

func TestWatcherOverwrittenEdit(t *testing.T) {
	Convey("Given a store that rewrites a file right after an external edit", t, func() {
		ctx := context.Background()
		tempDir, err := os.MkdirTemp("", "watcher_overwrite_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		store, err := storage.NewJSON(tempDir)
		So(err, ShouldBeNil)
		So(store.PutInstance(ctx, domain.BackupInstance{ID: "i1", Name: "world", MaxBackups: 1}), ShouldBeNil)

		var reloads int32
		w := New(tempDir, store, storage.FingerprintFile, WithDebounce(300*time.Millisecond))
		w.On(storage.InstancesFile, func(context.Context) error {
			atomic.AddInt32(&reloads, 1)
			return nil
		})
		So(w.Start(ctx), ShouldBeNil)
		defer w.Stop()

		edited := `[{"id":"i1","name":"world","maxBackups":1},{"id":"i2","name":"nether","maxBackups":1}]`
		So(os.WriteFile(filepath.Join(tempDir, storage.InstancesFile), []byte(edited), 0644), ShouldBeNil)
		time.Sleep(50 * time.Millisecond)
		_, err = store.UpdateInstance(ctx, "i1", func(inst *domain.BackupInstance) error {
			inst.MaxBackups = 2
			return nil
		})
		So(err, ShouldBeNil)
		time.Sleep(800 * time.Millisecond)

		Convey("The edit should still trigger exactly one reload", func() {
			list, err := store.ListInstances(ctx)
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 2)
			So(atomic.LoadInt32(&reloads), ShouldEqual, 1)
		})
	})
}
