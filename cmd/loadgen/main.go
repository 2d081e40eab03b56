package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := defaultOptions()
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Fire concurrent bookings at the booking API and check serial uniqueness",
		Long: `loadgen sends concurrent POST /api/appointments requests over random
doctor/hospital pairs and reports status counts, latency and any serial number
issued twice for the same doctor, hospital and date.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			rep.print(cmd.OutOrStdout())
			if rep.Duplicates > 0 {
				return fmt.Errorf("%d duplicate serials detected", rep.Duplicates)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.BaseURL, "url", opts.BaseURL, "booking API base URL")
	f.IntVarP(&opts.Requests, "requests", "n", opts.Requests, "total requests to send")
	f.IntVarP(&opts.Concurrency, "concurrency", "c", opts.Concurrency, "concurrent clients")
	f.IntVar(&opts.Hospitals, "hospitals", opts.Hospitals, "hospital ids are 1..hospitals")
	f.IntVar(&opts.DoctorsPerHospital, "doctors-per-hospital", opts.DoctorsPerHospital, "hospital h owns doctors (h-1)*n+1..h*n")
	f.IntVar(&opts.Patients, "patients", opts.Patients, "patient ids are 1..patients")
	f.StringVar(&opts.Date, "date", opts.Date, "appointment date (YYYY-MM-DD), default tomorrow")
	f.BoolVar(&opts.Async, "async", opts.Async, "use POST /api/appointments/async")
	f.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "per-request timeout")
	f.Int64Var(&opts.Seed, "seed", opts.Seed, "random seed (0 uses the clock)")
	return cmd
}

func defaultOptions() options {
	return options{
		BaseURL:            "http://localhost:8080",
		Requests:           1000,
		Concurrency:        50,
		Hospitals:          500,
		DoctorsPerHospital: 50,
		Patients:           100000,
		Date:               time.Now().AddDate(0, 0, 1).Format("2006-01-02"),
		Timeout:            35 * time.Second,
	}
}
