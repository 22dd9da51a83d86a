package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Request payload structure
type EnqueuePayload struct {
	UserID           int64   `json:"user_id"`
	SubscriptionID   int64   `json:"subscription_id"`
	BeneficiaryPhone string  `json:"beneficiary_phone"`
	AmountGB         float64 `json:"amount_gb"`
	Source           string  `json:"source"`
}

// Test configuration
type LoadTestConfig struct {
	URL               string
	RequestsPerSecond int
	DurationSeconds   int
	ConcurrentWorkers int
}

// Stats tracking
type Stats struct {
	successCount  atomic.Int64
	errorCount    atomic.Int64
	responseTimes []float64
	mu            sync.Mutex
}

func (s *Stats) addResponseTime(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes = append(s.responseTimes, duration)
}

func (s *Stats) getResponseTimes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := make([]float64, len(s.responseTimes))
	copy(times, s.responseTimes)
	return times
}

func sendRequest(client *http.Client, config LoadTestConfig, payload []byte, stats *Stats) {
	start := time.Now()

	req, err := http.NewRequest("POST", config.URL, bytes.NewBuffer(payload))
	if err != nil {
		stats.errorCount.Add(1)
		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		stats.errorCount.Add(1)
		stats.addResponseTime(time.Since(start).Seconds())
		return
	}
	defer resp.Body.Close()

	// Read and discard body
	io.Copy(io.Discard, resp.Body)

	duration := time.Since(start).Seconds()
	stats.addResponseTime(duration)

	if resp.StatusCode == 200 || resp.StatusCode == 202 {
		stats.successCount.Add(1)
	} else {
		stats.errorCount.Add(1)
	}
}

func worker(client *http.Client, config LoadTestConfig, payload []byte, stats *Stats, jobs <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for range jobs {
		sendRequest(client, config, payload, stats)
	}
}

func calculatePercentile(times []float64, percentile float64) float64 {
	if len(times) == 0 {
		return 0
	}

	sorted := make([]float64, len(times))
	copy(sorted, times)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	index := int(math.Ceil(percentile/100*float64(len(sorted)))) - 1
	if index < 0 {
		index = 0
	}
	return sorted[index]
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	config := LoadTestConfig{
		URL:               getEnvStr("TARGET_URL", "http://localhost:8080/api/v1/share/enqueue"),
		RequestsPerSecond: getEnvInt("RPS", 100),
		DurationSeconds:   getEnvInt("DURATION", 30),
		ConcurrentWorkers: getEnvInt("WORKERS", 20),
	}

	payload := EnqueuePayload{
		UserID:           getEnvInt64("USER_ID", 1),
		SubscriptionID:   getEnvInt64("SUBSCRIPTION_ID", 1),
		BeneficiaryPhone: getEnvStr("PHONE", "0241234567"),
		AmountGB:         1,
		Source:           "subscription",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Load test: %s\n", config.URL)
	fmt.Printf("  rate: %d req/s, duration: %ds, workers: %d\n",
		config.RequestsPerSecond, config.DurationSeconds, config.ConcurrentWorkers)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        config.ConcurrentWorkers,
			MaxIdleConnsPerHost: config.ConcurrentWorkers,
		},
	}

	stats := &Stats{}
	jobs := make(chan struct{}, config.RequestsPerSecond)
	var wg sync.WaitGroup

	for i := 0; i < config.ConcurrentWorkers; i++ {
		wg.Add(1)
		go worker(client, config, body, stats, jobs, &wg)
	}

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(config.RequestsPerSecond))
	deadline := time.After(time.Duration(config.DurationSeconds) * time.Second)

loop:
	for {
		select {
		case <-ticker.C:
			jobs <- struct{}{}
		case <-deadline:
			break loop
		}
	}

	ticker.Stop()
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start).Seconds()
	times := stats.getResponseTimes()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()
	total := success + errors

	var sum float64
	for _, d := range times {
		sum += d
	}
	var avg float64
	if len(times) > 0 {
		avg = sum / float64(len(times))
	}

	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Total requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Elapsed:         %.1fs\n", elapsed)
	fmt.Printf("Actual rate:     %.1f req/s\n", float64(total)/elapsed)
	fmt.Printf("Avg latency:     %.1fms\n", avg*1000)
	fmt.Printf("p50 latency:     %.1fms\n", calculatePercentile(times, 50)*1000)
	fmt.Printf("p95 latency:     %.1fms\n", calculatePercentile(times, 95)*1000)
	fmt.Printf("p99 latency:     %.1fms\n", calculatePercentile(times, 99)*1000)
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}
