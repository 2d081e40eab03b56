package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type options struct {
	BaseURL            string
	Requests           int
	Concurrency        int
	Hospitals          int
	DoctorsPerHospital int
	Patients           int
	Date               string
	Async              bool
	Timeout            time.Duration
	Seed               int64

	client *http.Client
}

type booking struct {
	DoctorID        int    `json:"doctorId"`
	HospitalID      int    `json:"hospitalId"`
	PatientID       int    `json:"patientId"`
	AppointmentDate string `json:"appointmentDate"`
	Notes           string `json:"notes"`
}

type bookingReply struct {
	SerialNumber int64 `json:"serialNumber"`
}

type report struct {
	Sent       int
	ByStatus   map[int]int
	Errors     int
	Duplicates int
	Keys       int
	Elapsed    time.Duration
	latencies  []time.Duration
}

func (r *report) percentile(p float64) time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	idx := int(float64(len(r.latencies)-1) * p)
	return r.latencies[idx]
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "requests: %d in %s (%.1f req/s)\n", r.Sent, r.Elapsed.Round(time.Millisecond), float64(r.Sent)/max(r.Elapsed.Seconds(), 0.001))
	codes := make([]int, 0, len(r.ByStatus))
	for c := range r.ByStatus {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %d %s: %d\n", c, http.StatusText(c), r.ByStatus[c])
	}
	fmt.Fprintf(w, "transport errors: %d\n", r.Errors)
	fmt.Fprintf(w, "latency p50=%s p95=%s p99=%s\n", r.percentile(.5), r.percentile(.95), r.percentile(.99))
	fmt.Fprintf(w, "keys with admissions: %d, duplicate serials: %d\n", r.Keys, r.Duplicates)
}

// serialBook guarda os serials vistos por chave (doctor_hospital_date).
type serialBook struct {
	mu    sync.Mutex
	seen  map[string]map[int64]bool
	dupes int
}

func (b *serialBook) add(key string, serial int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[key] == nil {
		b.seen[key] = make(map[int64]bool)
	}
	if b.seen[key][serial] {
		b.dupes++
		return false
	}
	b.seen[key][serial] = true
	return true
}

func run(ctx context.Context, opts options) (*report, error) {
	if opts.Requests <= 0 || opts.Concurrency <= 0 {
		return nil, errors.New("requests and concurrency must be > 0")
	}
	if opts.Hospitals <= 0 || opts.DoctorsPerHospital <= 0 || opts.Patients <= 0 {
		return nil, errors.New("hospitals, doctors-per-hospital and patients must be > 0")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	client := opts.client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	url := strings.TrimRight(opts.BaseURL, "/") + "/api/appointments"
	if opts.Async {
		url += "/async"
	}

	seed := uint64(opts.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	jobs := make(chan int)
	type result struct {
		status  int
		latency time.Duration
		err     error
	}
	results := make(chan result, opts.Concurrency)
	book := &serialBook{seen: make(map[string]map[int64]bool)}

	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		// gerador por cliente: sem estado global compartilhado
		rnd := rand.New(rand.NewPCG(seed, uint64(w)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b := randomBooking(rnd, opts, i)
				start := time.Now()
				status, serial, err := post(ctx, client, url, b)
				if err == nil && status >= 200 && status < 300 {
					book.add(fmt.Sprintf("%d_%d_%s", b.DoctorID, b.HospitalID, b.AppointmentDate), serial)
				}
				results <- result{status: status, latency: time.Since(start), err: err}
			}
		}()
	}

	started := time.Now()
	go func() {
		defer close(jobs)
		for i := 0; i < opts.Requests; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	rep := &report{ByStatus: make(map[int]int)}
	for res := range results {
		rep.Sent++
		if res.err != nil {
			rep.Errors++
			continue
		}
		rep.ByStatus[res.status]++
		rep.latencies = append(rep.latencies, res.latency)
	}
	rep.Elapsed = time.Since(started)
	sort.Slice(rep.latencies, func(i, j int) bool { return rep.latencies[i] < rep.latencies[j] })

	book.mu.Lock()
	rep.Duplicates = book.dupes
	rep.Keys = len(book.seen)
	book.mu.Unlock()
	return rep, nil
}

func randomBooking(rnd *rand.Rand, opts options, i int) booking {
	hospital := rnd.IntN(opts.Hospitals) + 1
	firstDoctor := (hospital-1)*opts.DoctorsPerHospital + 1
	return booking{
		DoctorID:        firstDoctor + rnd.IntN(opts.DoctorsPerHospital),
		HospitalID:      hospital,
		PatientID:       rnd.IntN(opts.Patients) + 1,
		AppointmentDate: opts.Date,
		Notes:           fmt.Sprintf("loadgen request %d", i),
	}
}

func post(ctx context.Context, client *http.Client, url string, b booking) (int, int64, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, errors.Wrap(err, "post booking")
	}
	defer resp.Body.Close()

	var reply bookingReply
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return resp.StatusCode, 0, errors.Wrap(err, "decode booking reply")
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, reply.SerialNumber, nil
}
