package main

import (
	"flag"
	"fmt"
	"runtime"
	"sync"
	"time"

	baggage "github.com/lightstep/lightstep-baggage-go"
)

var (
	goroutines = flag.Int("goroutines", runtime.GOMAXPROCS(0), "concurrent updaters")
	updates    = flag.Int64("updates", 1000000, "updates per goroutine")
	fields     = flag.Int("fields", 8, "distinct fields contended over")
	attempts   = flag.Int("attempts", baggage.DefaultUpdateAttempts, "update attempt budget")
)

type result struct {
	applied int64
	dropped int64
}

func main() {
	flag.Parse()

	fieldSet := make([]*baggage.Field, *fields)
	for i := range fieldSet {
		fieldSet[i] = baggage.NewField(fmt.Sprintf("bench-field-%d", i))
	}

	factory := baggage.NewFieldsFactory(
		baggage.WithFields(fieldSet...),
		baggage.WithUpdateAttempts(*attempts),
	)
	state := factory.New()

	var exhausted int64
	var mu sync.Mutex
	baggage.SetGlobalEventHandler(func(event baggage.Event) {
		if _, ok := event.(baggage.EventUpdateAttemptsExhausted); ok {
			mu.Lock()
			exhausted++
			mu.Unlock()
		}
	})

	results := make([]result, *goroutines)
	start := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < *goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := int64(0); i < *updates; i++ {
				field := fieldSet[int(i)%len(fieldSet)]
				value := fmt.Sprintf("%d-%d", g, i)
				if state.UpdateValue(field, value) {
					results[g].applied++
				} else {
					results[g].dropped++
				}
			}
		}(g)
	}
	wg.Wait()

	elapsed := time.Since(start)

	var applied, dropped int64
	for _, r := range results {
		applied += r.applied
		dropped += r.dropped
	}
	total := applied + dropped

	fmt.Printf("goroutines:      %d\n", *goroutines)
	fmt.Printf("fields:          %d\n", *fields)
	fmt.Printf("updates:         %d\n", total)
	fmt.Printf("applied:         %d\n", applied)
	fmt.Printf("not applied:     %d\n", dropped)
	fmt.Printf("retry exhausted: %d\n", exhausted)
	fmt.Printf("elapsed:         %v\n", elapsed)
	fmt.Printf("updates/sec:     %.0f\n", float64(total)/elapsed.Seconds())
}
