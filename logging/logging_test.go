package logging

import (
	"fmt"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("quadtree", "debug")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel), test.ShouldBeTrue)

	logger, err = New("quadtree", "warn")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel), test.ShouldBeFalse)

	_, err = New("quadtree", "loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid log level")
}

func TestWriter(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	_, err := fmt.Fprintln(Writer(logger), "GET /stats 200")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("GET /stats 200").Len(), test.ShouldEqual, 1)
}
