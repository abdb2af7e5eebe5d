// Package httpapi is the HTTP surface of the daemon: frame ingestion for
// capture devices and report and control endpoints for operators.
package httpapi

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/capture"
	"faceattend/internal/export"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logger"
	"faceattend/internal/queue"
	"faceattend/internal/roster"
)

const maxFrameBytes = 8 << 20

// Exporter runs an export of the current day.
type Exporter interface {
	Run(ctx context.Context) (export.Result, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the handlers use.
type Deps struct {
	Ledger   *attendance.Ledger
	Roster   roster.Source
	Exporter Exporter
	Queue    queue.Queue
	Signer   *auth.Signer
	Limiter  *httpmiddleware.TokenBucket
	Metrics  http.Handler
	// CORSOrigins are the browser origins allowed to call the API.
	CORSOrigins []string
	// Health maps dependency names to probes; any failure makes /healthz 503.
	Health map[string]HealthCheck
	// Stop asks the daemon to shut down.
	Stop func()
	Log  logger.Logger
}

// Server holds the gin engine.
type Server struct {
	deps   Deps
	engine *gin.Engine
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Limiter == nil {
		deps.Limiter = httpmiddleware.NewTokenBucket(120, 120)
	}
	s := &Server{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Log, "/healthz", "/metrics"))
	r.Use(corsMiddleware(deps.CORSOrigins))
	r.Use(securityHeaders())

	r.GET("/healthz", s.health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	limit := deps.Limiter.GinMiddleware()

	devices := r.Group("/v1", auth.Require(deps.Signer, auth.RoleDevice), limit)
	devices.POST("/frames", s.postFrame)

	ops := r.Group("/v1", auth.Require(deps.Signer, auth.RoleOperator), limit)
	ops.GET("/reports/today", s.reportToday)
	ops.POST("/control/export", s.exportNow)
	ops.POST("/control/stop", s.stop)

	s.engine = r
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

type frameRequest struct {
	ImageURL   string    `json:"image_url"`
	ImageB64   string    `json:"image_b64"`
	CapturedAt time.Time `json:"captured_at"`
}

func (s *Server) postFrame(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	frame := capture.Frame{DeviceID: claims.Subject}

	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxFrameBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
			return
		}
		frame.Data = data
	} else {
		var req frameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frame.ImageURL = req.ImageURL
		frame.CapturedAt = req.CapturedAt
		if req.ImageB64 != "" {
			data, err := base64.StdEncoding.DecodeString(stripDataURL(req.ImageB64))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "image_b64 is not valid base64"})
				return
			}
			frame.Data = data
		}
	}

	if frame.ImageURL == "" && len(frame.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide image_url, image_b64 or a file"})
		return
	}
	if len(frame.Data) > maxFrameBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
		return
	}

	if err := capture.Publish(c.Request.Context(), s.deps.Queue, frame); err != nil {
		s.deps.Log.Error(c.Request.Context(), "queue publish failed",
			logger.String("device", frame.DeviceID), logger.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "frame queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// stripDataURL drops a "data:image/jpeg;base64," prefix.
func stripDataURL(s string) string {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		return s[i+len(";base64,"):]
	}
	return s
}

type reportRow struct {
	Identity string `json:"identity"`
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out,omitempty"`
	Hours    string `json:"work_hours,omitempty"`
}

type reportResponse struct {
	Date    string      `json:"date"`
	Present int         `json:"present"`
	Absent  []string    `json:"absent"`
	Rows    []reportRow `json:"rows"`
}

func (s *Server) reportToday(c *gin.Context) {
	ctx := c.Request.Context()
	date := s.deps.Ledger.Today()
	recs, err := s.deps.Ledger.ListDate(ctx, date)
	if err != nil {
		s.deps.Log.Error(ctx, "list records failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}

	var entries []attendance.RosterEntry
	if s.deps.Roster != nil {
		if entries, err = s.deps.Roster.List(ctx); err != nil {
			s.deps.Log.Warn(ctx, "roster unavailable", logger.Error(err))
		}
	}

	rep := attendance.BuildReport(date, recs, entries)
	loc := s.deps.Ledger.Location()
	out := reportResponse{Date: rep.Date, Present: rep.PresentCount, Absent: rep.Absent, Rows: []reportRow{}}
	for _, r := range rep.Rows {
		checkIn := r.CheckIn
		out.Rows = append(out.Rows, reportRow{
			Identity: r.Identity,
			CheckIn:  export.FormatTime(&checkIn, loc),
			CheckOut: export.FormatTime(r.CheckOut, loc),
			Hours:    r.Duration,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) exportNow(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := s.deps.Exporter.Run(ctx)
	if err != nil {
		s.deps.Log.Error(ctx, "export failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{
		"date":      res.Date,
		"empty":     res.Empty,
		"csv":       res.CSVPath,
		"log":       res.LogPath,
		"present":   res.Report.PresentCount,
		"absent":    res.Report.Absent,
		"submitted": len(res.Submission.Succeeded),
		"failed":    len(res.Submission.Failed),
	}
	if res.NotifyErr != nil {
		body["notify_error"] = res.NotifyErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) stop(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	s.deps.Log.Info(c.Request.Context(), "stop requested", logger.String("operator", claims.Subject))
	if s.deps.Stop != nil {
		s.deps.Stop()
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}
