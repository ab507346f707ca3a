package logger

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given the Logger package", t, func() {
		Convey("New function", func() {
			Convey("When creating a logger with console output only", func() {
				logger, err := New(Options{Level: "info"})

				Convey("It should create a logger successfully", func() {
					So(err, ShouldBeNil)
					So(logger, ShouldNotBeNil)
					So(func() { logger.Info("Test log") }, ShouldNotPanic)
				})
			})

			Convey("When creating a logger with a log file", func() {
				tempDir, err := os.MkdirTemp("", "logger_test")
				So(err, ShouldBeNil)
				defer os.RemoveAll(tempDir)

				logFile := filepath.Join(tempDir, "nested", "keeper.log")
				logger, err := New(Options{Level: "debug", File: logFile, MaxSizeMB: 1})

				Convey("It should create the directory and write the file", func() {
					So(err, ShouldBeNil)
					So(logger, ShouldNotBeNil)

					logger.Debugw("probe finished", "monitor", "m1")
					logger.Sync()

					content, err := os.ReadFile(logFile)
					So(err, ShouldBeNil)
					So(string(content), ShouldContainSubstring, `"monitor":"m1"`)
					logger.Close()
				})
			})

			Convey("When creating a logger with an invalid log level", func() {
				logger, err := New(Options{Level: "invalid"})

				Convey("It should default to Info level", func() {
					So(err, ShouldBeNil)
					So(logger, ShouldNotBeNil)
					So(logger.Desugar().Core().Enabled(-1), ShouldBeFalse)
				})
			})

			Convey("When creating a logger with an invalid log file path", func() {
				logger, err := New(Options{Level: "info", File: "/proc/invalid/path/test.log"})

				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to create log directory")
					So(logger, ShouldBeNil)
				})
			})
		})

		Convey("Component method", func() {
			logger := Nop()

			Convey("It should return a usable child logger", func() {
				child := logger.Component("uptime")
				So(child, ShouldNotBeNil)
				So(func() { child.Infof("checked %d monitors", 3) }, ShouldNotPanic)
			})
		})

		Convey("Close method", func() {
			logger, err := New(Options{Level: "info"})
			So(err, ShouldBeNil)

			Convey("It should close without error", func() {
				So(func() { logger.Close() }, ShouldNotPanic)
			})
		})
	})
}
