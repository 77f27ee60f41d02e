package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	egresslite "github.com/AlexKimmel/EgressLite"
	"github.com/AlexKimmel/EgressLite/internal/obs"
	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
)

var (
	probeCount       int
	probeConcurrency int
	probeRPS         int
	probeLimits      []string
	probeRetries     int
	probeBackoff     float64
	probeMethod      string
	probePerHost     bool
	probeTimeout     time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe URL",
	Short: "Send requests through a throttled client and report timing",
	Example: `  egresslite probe https://api.example.com/ping --count 35 --rps 10 --limit 30/1m
  egresslite probe http://localhost:9000/flaky --retries 3 --backoff 0.1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log_level")
		if level == "" {
			level = "warn"
		}
		logger := obs.SetupLoggerTo(os.Stderr, level)

		opts := []egresslite.ConfigOption{
			egresslite.WithRequestsPerSecond(probeRPS),
			egresslite.WithTotalRetries(probeRetries),
			egresslite.WithBackoffFactor(probeBackoff),
			egresslite.WithTimeout(probeTimeout),
			egresslite.WithLogger(logger),
		}
		for _, s := range probeLimits {
			l, err := ratelimit.ParseLimit(s)
			if err != nil {
				return err
			}
			opts = append(opts, egresslite.WithAdditionalLimit(l.MaxCalls, l.Period))
		}
		if probePerHost {
			opts = append(opts, egresslite.WithPerHost())
		}

		client, err := egresslite.NewClient(opts...)
		if err != nil {
			return err
		}

		report := runProbe(cmd.Context(), client, probeRequest{
			method:      probeMethod,
			url:         args[0],
			count:       probeCount,
			concurrency: probeConcurrency,
		})
		_, err = io.WriteString(cmd.OutOrStdout(), renderProbe(report))
		return err
	},
}

func init() {
	f := probeCmd.Flags()
	f.IntVarP(&probeCount, "count", "n", 11, "number of requests to send")
	f.IntVarP(&probeConcurrency, "concurrency", "c", 1, "concurrent callers")
	f.IntVar(&probeRPS, "rps", 10, "requests per second (base window)")
	f.StringSliceVar(&probeLimits, "limit", nil, "additional window as calls/period, e.g. 30/1m (repeatable)")
	f.IntVar(&probeRetries, "retries", 5, "retries after the first attempt")
	f.Float64Var(&probeBackoff, "backoff", 0.25, "backoff factor in seconds")
	f.StringVarP(&probeMethod, "method", "X", http.MethodGet, "HTTP method")
	f.BoolVar(&probePerHost, "per-host", false, "separate windows per upstream host")
	f.DurationVar(&probeTimeout, "timeout", 0, "per-request timeout including waits and retries (0 = none)")

	rootCmd.AddCommand(probeCmd)
}

type probeRequest struct {
	method      string
	url         string
	count       int
	concurrency int
}

type probeReport struct {
	Elapsed  time.Duration
	Statuses map[int]int
	Errors   map[string]int
	Slowest  time.Duration
}

func runProbe(ctx context.Context, client *http.Client, pr probeRequest) probeReport {
	if pr.concurrency < 1 {
		pr.concurrency = 1
	}

	report := probeReport{Statuses: map[int]int{}, Errors: map[string]int{}}
	var mu sync.Mutex
	jobs := make(chan struct{})
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < pr.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				began := time.Now()
				status, err := probeOnce(ctx, client, pr)
				took := time.Since(began)

				mu.Lock()
				if err != nil {
					report.Errors[err.Error()]++
				} else {
					report.Statuses[status]++
				}
				if took > report.Slowest {
					report.Slowest = took
				}
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < pr.count; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	report.Elapsed = time.Since(start)

	return report
}

func probeOnce(ctx context.Context, client *http.Client, pr probeRequest) (int, error) {
	req, err := http.NewRequestWithContext(ctx, pr.method, pr.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func renderProbe(r probeReport) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Outcome", "Count"})

	codes := make([]int, 0, len(r.Statuses))
	for c := range r.Statuses {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	total := 0
	for _, c := range codes {
		t.AppendRow(table.Row{strconv.Itoa(c) + " " + http.StatusText(c), r.Statuses[c]})
		total += r.Statuses[c]
	}

	msgs := make([]string, 0, len(r.Errors))
	for m := range r.Errors {
		msgs = append(msgs, m)
	}
	sort.Strings(msgs)
	for _, m := range msgs {
		t.AppendRow(table.Row{"error: " + m, r.Errors[m]})
		total += r.Errors[m]
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d requests in %s", total, r.Elapsed.Round(time.Millisecond)),
		fmt.Sprintf("slowest %s", r.Slowest.Round(time.Millisecond)),
	})
	return t.Render() + "\n"
}
