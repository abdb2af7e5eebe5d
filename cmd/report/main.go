// Command report exports a day of attendance from the configured store
// without running the capture daemon. Exporting the same day again rewrites
// its files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"faceattend/internal/app"
	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/logger"
)

func main() {
	date := flag.String("date", "", "day to export, YYYY-MM-DD (default today)")
	flag.Parse()

	ctx := context.Background()
	log := logger.Init()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(ctx, "config invalid", logger.Error(err))
	}
	_ = logger.SetLevelString(cfg.LogLevel)

	if *date != "" {
		if _, err := time.Parse(attendance.DateLayout, *date); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date %q: want YYYY-MM-DD\n", *date)
			os.Exit(2)
		}
	}

	ledger, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, "ledger store unavailable", logger.Error(err))
	}
	defer ledger.Close()

	exporter, err := app.NewExporter(cfg, ledger.Ledger, nil, log)
	if err != nil {
		log.Fatal(ctx, "exporter", logger.Error(err))
	}

	day := *date
	if day == "" {
		day = ledger.Today()
	}
	res, err := exporter.RunDate(ctx, day)
	if err != nil {
		log.Fatal(ctx, "export failed", logger.String("date", day), logger.Error(err))
	}
	if res.Empty {
		log.Info(ctx, "nothing to export", logger.String("date", day))
		return
	}
	log.Info(ctx, "export done",
		logger.String("date", day),
		logger.Int("present", res.Report.PresentCount),
		logger.Int("absent", res.Report.AbsentCount),
		logger.Int("submitted", len(res.Submission.Succeeded)),
		logger.String("csv", res.CSVPath))
}
