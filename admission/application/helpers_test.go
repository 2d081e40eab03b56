package application

import (
	"sort"
	"sync"
	"testing"
	"time"

	"serial-allocator/admission/domain"

	"github.com/stretchr/testify/require"
)

var testKey = domain.NewKey(5, domain.Date{Year: 2024, Month: time.January, Day: 1})

// bookConcurrently dispara n chamadas ao mesmo tempo e devolve os outcomes.
func bookConcurrently(t *testing.T, n int, fn func() (domain.Outcome, error)) []domain.Outcome {
	t.Helper()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		out   []domain.Outcome
		errs  []error
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			o, err := fn()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			out = append(out, o)
		}()
	}
	close(start)
	wg.Wait()
	require.Empty(t, errs)
	return out
}

// splitOutcomes separa os serials aceitos (ordenados) e conta os rejeitados por motivo.
func splitOutcomes(t *testing.T, outs []domain.Outcome) ([]domain.Serial, map[domain.RejectReason]int) {
	t.Helper()
	var serials []domain.Serial
	rejected := make(map[domain.RejectReason]int)
	for _, o := range outs {
		switch o := o.(type) {
		case domain.Accepted:
			serials = append(serials, o.Serial)
		case domain.Queued:
			serials = append(serials, o.Serial)
		case domain.Rejected:
			rejected[o.Reason]++
		default:
			t.Fatalf("unexpected outcome %T", o)
		}
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	return serials, rejected
}

func serialRange(n int) []domain.Serial {
	out := make([]domain.Serial, n)
	for i := range out {
		out[i] = domain.Serial(i + 1)
	}
	return out
}
