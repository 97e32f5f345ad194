package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Checker probes one dependency.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Report is the health payload. Checks maps dependency name to "ok" or the error text.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Service encapsulates health-related checks.
type Service struct {
	timeout time.Duration
	names   []string
	checks  map[string]Checker
}

// NewService constructs a health service running each check with timeout.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{timeout: timeout, checks: make(map[string]Checker)}
}

// Register adds a named dependency check. Nil checkers are ignored.
func (s *Service) Register(name string, c Checker) {
	if c == nil {
		return
	}
	if _, ok := s.checks[name]; !ok {
		s.names = append(s.names, name)
		sort.Strings(s.names)
	}
	s.checks[name] = c
}

// Status runs every check concurrently.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{OK: true}
	if len(s.names) == 0 {
		return report
	}
	report.Checks = make(map[string]string, len(s.names))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range s.names {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			result := "ok"
			if err := c.Check(checkCtx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			report.Checks[name] = result
			if result != "ok" {
				report.OK = false
			}
			mu.Unlock()
		}(name, s.checks[name])
	}
	wg.Wait()
	return report
}
