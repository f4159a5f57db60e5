// Package main renders an HTML traffic report from a daemon's event
// database: per-lane mean speed over time, violation counts, and incident
// dwell, using ECharts for quick visual review.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Varn1t/traffic-intelligence/db"
)

func main() {
	var (
		dbPath  = flag.String("db", "traffic.db", "path to the event database")
		outPath = flag.String("out", "traffic-report.html", "output HTML file")
		window  = flag.Duration("window", 24*time.Hour, "how far back to report")
		bucket  = flag.Duration("bucket", 5*time.Minute, "speed chart bucket size")
	)
	flag.Parse()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	end := time.Now()
	start := end.Add(-*window)

	page := components.NewPage()
	page.PageTitle = "Traffic report"

	speedChart, err := buildSpeedChart(database, start, end, *bucket)
	if err != nil {
		log.Fatalf("speed chart: %v", err)
	}
	page.AddCharts(speedChart)

	violationChart, err := buildViolationChart(database, start, end)
	if err != nil {
		log.Fatalf("violation chart: %v", err)
	}
	page.AddCharts(violationChart)

	incidentChart, err := buildIncidentChart(database, start, end)
	if err != nil {
		log.Fatalf("incident chart: %v", err)
	}
	page.AddCharts(incidentChart)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("create output file: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("render report: %v", err)
	}
	log.Printf("wrote report for %s..%s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339), *outPath)
}

// buildSpeedChart plots bucketed mean speed per lane as one line per lane.
func buildSpeedChart(database *db.DB, start, end time.Time, bucket time.Duration) (*charts.Line, error) {
	buckets, err := database.LaneMeanSpeeds(start, end, bucket)
	if err != nil {
		return nil, err
	}

	// Group by lane, collect the union of bucket timestamps for the x axis.
	byLane := make(map[string]map[int64]float64)
	timeSet := make(map[int64]bool)
	for _, b := range buckets {
		if byLane[b.LaneID] == nil {
			byLane[b.LaneID] = make(map[int64]float64)
		}
		byLane[b.LaneID][b.Bucket.UnixNano()] = b.MeanKmh
		timeSet[b.Bucket.UnixNano()] = true
	}

	times := make([]int64, 0, len(timeSet))
	for t := range timeSet {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	xAxis := make([]string, len(times))
	for i, t := range times {
		xAxis[i] = time.Unix(0, t).Format("15:04")
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Mean speed per lane",
			Subtitle: fmt.Sprintf("bucket=%s samples=%d", bucket, len(buckets)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "km/h"}),
	)
	line.SetXAxis(xAxis)

	lanes := make([]string, 0, len(byLane))
	for lane := range byLane {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)
	for _, lane := range lanes {
		series := make([]opts.LineData, len(times))
		for i, t := range times {
			if v, ok := byLane[lane][t]; ok {
				series[i] = opts.LineData{Value: v}
			} else {
				series[i] = opts.LineData{Value: nil}
			}
		}
		line.AddSeries(lane, series)
	}
	return line, nil
}

// buildViolationChart plots violation counts per lane.
func buildViolationChart(database *db.DB, start, end time.Time) (*charts.Bar, error) {
	violations, err := database.SpeedViolations(start, end, 100000)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, v := range violations {
		counts[v.LaneID]++
	}
	lanes := make([]string, 0, len(counts))
	for lane := range counts {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)

	values := make([]opts.BarData, len(lanes))
	for i, lane := range lanes {
		values[i] = opts.BarData{Value: counts[lane]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed violations per lane",
			Subtitle: fmt.Sprintf("total=%d", len(violations)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(lanes).
		AddSeries("violations", values,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar, nil
}

// buildIncidentChart plots incident counts and peak dwell per lane.
func buildIncidentChart(database *db.DB, start, end time.Time) (*charts.Bar, error) {
	incidents, err := database.Incidents(start, end, 10000)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	peakDwell := make(map[string]float64)
	for _, inc := range incidents {
		counts[inc.LaneID]++
		if d := inc.PeakDwell.Seconds(); d > peakDwell[inc.LaneID] {
			peakDwell[inc.LaneID] = d
		}
	}
	lanes := make([]string, 0, len(counts))
	for lane := range counts {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)

	countData := make([]opts.BarData, len(lanes))
	dwellData := make([]opts.BarData, len(lanes))
	for i, lane := range lanes {
		countData[i] = opts.BarData{Value: counts[lane]}
		dwellData[i] = opts.BarData{Value: peakDwell[lane]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Incidents per lane",
			Subtitle: fmt.Sprintf("total=%d", len(incidents)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(lanes).
		AddSeries("count", countData).
		AddSeries("peak dwell (s)", dwellData)
	return bar, nil
}
