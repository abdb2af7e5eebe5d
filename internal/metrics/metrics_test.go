package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRecorder(t *testing.T) {
	Convey("Given a recorder on a private registry", t, func() {
		reg := prometheus.NewRegistry()
		rec := New(WithRegistry(reg), WithNamespace("test"))

		Convey("When pipeline events are recorded", func() {
			rec.FrameReceived()
			rec.FrameReceived()
			rec.FrameSampled()
			rec.Detection(KindKnown)
			rec.Detection(KindUnknown)
			rec.Detection(KindUnknown)
			rec.CooldownRejected()
			rec.CooldownSize(3)
			rec.Transition("check_in")

			Convey("Then the counters reflect them", func() {
				So(testutil.ToFloat64(rec.frames), ShouldEqual, 2)
				So(testutil.ToFloat64(rec.framesSampled), ShouldEqual, 1)
				So(testutil.ToFloat64(rec.detections.WithLabelValues(KindUnknown)), ShouldEqual, 2)
				So(testutil.ToFloat64(rec.cooldownRejections), ShouldEqual, 1)
				So(testutil.ToFloat64(rec.cooldownSize), ShouldEqual, 3)
				So(testutil.ToFloat64(rec.transitions.WithLabelValues("check_in")), ShouldEqual, 1)
			})
		})

		Convey("When export events are recorded", func() {
			rec.Export("ok")
			rec.Submission(StatusOK)
			rec.Submission(StatusFailed)
			rec.NotifyFailed()

			Convey("Then the handler exposes them", func() {
				w := httptest.NewRecorder()
				rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
				body, _ := io.ReadAll(w.Body)

				So(w.Code, ShouldEqual, 200)
				So(string(body), ShouldContainSubstring, `test_export_submissions_total{status="failed"} 1`)
				So(string(body), ShouldContainSubstring, "test_export_notify_failures_total 1")
				So(strings.Contains(string(body), "go_goroutines"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a nil recorder", t, func() {
		var rec *Recorder

		Convey("Then recording is a no-op", func() {
			So(func() {
				rec.FrameReceived()
				rec.Detection(KindKnown)
				rec.Transition("check_out")
				rec.NotifyFailed()
			}, ShouldNotPanic)
			So(rec.Handler(), ShouldNotBeNil)
		})
	})
}
