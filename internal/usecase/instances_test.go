package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/keeper/internal/domain"
)

func invalidField(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}

func TestInstances(t *testing.T) {
	Convey("Given the instance service", t, func() {
		ctx := context.Background()
		tempDir, err := os.MkdirTemp("", "instances_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		source := filepath.Join(tempDir, "world")
		So(os.MkdirAll(source, 0755), ShouldBeNil)
		target := filepath.Join(tempDir, "backups")

		h := newHarness(filepath.Join(tempDir, "data"), &fakeArchiver{})
		defer h.close()
		h.backup.now = clock(time.Now())

		input := domain.InstanceInput{Name: "world", SourcePath: source, TargetPath: target, Interval: "daily", MaxBackups: 3}

		Convey("When creating with bad input", func() {
			noSource := input
			noSource.SourcePath = filepath.Join(tempDir, "missing")
			tooMany := input
			tooMany.MaxBackups = 6
			badCron := input
			badCron.Interval = "fortnightly"

			Convey("It should reject it before persisting anything", func() {
				_, err := h.instances.Create(ctx, noSource)
				So(errors.Is(err, domain.ErrValidation), ShouldBeTrue)
				So(invalidField(err), ShouldEqual, "sourcePath")

				_, err = h.instances.Create(ctx, tooMany)
				So(invalidField(err), ShouldEqual, "maxBackups")

				_, err = h.instances.Create(ctx, badCron)
				So(invalidField(err), ShouldEqual, "interval")

				list, _ := h.instances.List(ctx)
				So(list, ShouldBeEmpty)
				So(h.sched.Len(), ShouldEqual, 0)
			})
		})

		Convey("When creating a valid instance", func() {
			inst, err := h.instances.Create(ctx, input)
			So(err, ShouldBeNil)

			Convey("It should be persisted and scheduled", func() {
				So(inst.ID, ShouldNotBeEmpty)
				So(inst.Backups, ShouldBeEmpty)
				So(inst.LastBackup, ShouldBeNil)

				got, err := h.instances.Get(ctx, inst.ID)
				So(err, ShouldBeNil)
				So(got.Name, ShouldEqual, "world")
				So(h.sched.Has("backup:"+inst.ID), ShouldBeTrue)
			})

			Convey("A manual backup should return the updated instance", func() {
				updated, err := h.instances.PerformBackup(ctx, inst.ID)
				So(err, ShouldBeNil)
				So(len(updated.Backups), ShouldEqual, 1)
				So(updated.LastBackup, ShouldNotBeNil)

				rec, err := h.instances.BackupFile(ctx, inst.ID, 0)
				So(err, ShouldBeNil)
				So(rec.FileName, ShouldEqual, updated.Backups[0].FileName)

				Convey("A missing backup should be reported", func() {
					_, err := h.instances.BackupFile(ctx, inst.ID, 1)
					So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)

					So(os.Remove(rec.FilePath), ShouldBeNil)
					_, err = h.instances.BackupFile(ctx, inst.ID, 0)
					var ioErr *domain.IOError
					So(errors.As(err, &ioErr), ShouldBeTrue)
				})
			})

			Convey("Updating should replace the fields and the trigger", func() {
				changed := input
				changed.Interval = "hourly"
				updated, err := h.instances.Update(ctx, inst.ID, changed)
				So(err, ShouldBeNil)
				So(updated.Interval, ShouldEqual, "hourly")
				So(updated.CreatedAt.Equal(inst.CreatedAt), ShouldBeTrue)
				So(h.sched.Len(), ShouldEqual, 1)
			})

			Convey("Lowering maxBackups should evict the oldest archives", func() {
				for i := 0; i < 3; i++ {
					_, err := h.instances.PerformBackup(ctx, inst.ID)
					So(err, ShouldBeNil)
				}
				before, _ := h.instances.Get(ctx, inst.ID)

				smaller := input
				smaller.MaxBackups = 1
				updated, err := h.instances.Update(ctx, inst.ID, smaller)
				So(err, ShouldBeNil)
				So(len(updated.Backups), ShouldEqual, 1)
				So(updated.Backups[0].FileName, ShouldEqual, before.Backups[2].FileName)
				So(zipFiles(target), ShouldResemble, []string{before.Backups[2].FileName})
			})

			Convey("Deleting should cancel the job", func() {
				So(h.instances.Delete(ctx, inst.ID), ShouldBeNil)
				So(h.sched.Has("backup:"+inst.ID), ShouldBeFalse)

				_, err := h.instances.Get(ctx, inst.ID)
				So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When addressing an unknown instance", func() {
			Convey("Every operation should report not found", func() {
				_, err := h.instances.Get(ctx, "nope")
				So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
				_, err = h.instances.Update(ctx, "nope", input)
				So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
				So(errors.Is(h.instances.Delete(ctx, "nope"), domain.ErrNotFound), ShouldBeTrue)
				_, err = h.instances.PerformBackup(ctx, "nope")
				So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
