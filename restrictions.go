package baggage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

const (
	DefaultRestrictionAddress         = "http://localhost:5778"
	DefaultRestrictionRefreshInterval = time.Minute
	DefaultRestrictionTimeout         = time.Second * 5

	// DefaultMaxValueLength applies while no restrictions have been fetched
	// yet, and to services the agent imposes no per-key limit on.
	DefaultMaxValueLength = 2048

	restrictionsPath = "/baggage"
)

var acceptHeader = http.CanonicalHeaderKey("Accept")

const jsonContentType = "application/json"

// Restriction is one allowed baggage key and the longest value it accepts.
type Restriction struct {
	BaggageKey     string `json:"baggageKey"`
	MaxValueLength int    `json:"maxValueLength"`
}

// RestrictionManager polls an agent for the baggage keys a service may
// propagate. Until the first successful poll every key is allowed, so a slow
// or absent agent never blocks propagation; afterwards only listed keys are
// valid.
type RestrictionManager struct {
	serviceName string
	address     string
	timeout     time.Duration
	client      *http.Client

	mu           sync.RWMutex
	restrictions map[string]int
	initialized  bool

	ticker      *time.Ticker
	stopPoll    chan struct{}
	pollStopped sync.WaitGroup
}

// RestrictionOption configures a RestrictionManager.
type RestrictionOption func(*restrictionConfig)

// WithRestrictionAddress sets the base URL of the agent serving
// GET /baggage?service=<name>.
func WithRestrictionAddress(address string) RestrictionOption {
	return func(c *restrictionConfig) {
		c.address = address
	}
}

func WithRestrictionRefreshInterval(interval time.Duration) RestrictionOption {
	return func(c *restrictionConfig) {
		if interval > 0 {
			c.refreshInterval = interval
		}
	}
}

func WithRestrictionTimeout(timeout time.Duration) RestrictionOption {
	return func(c *restrictionConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

type restrictionConfig struct {
	address         string
	refreshInterval time.Duration
	timeout         time.Duration
}

func newRestrictionConfig(opts ...RestrictionOption) restrictionConfig {
	var c restrictionConfig

	defaultOpts := []RestrictionOption{
		WithRestrictionAddress(DefaultRestrictionAddress),
		WithRestrictionRefreshInterval(DefaultRestrictionRefreshInterval),
		WithRestrictionTimeout(DefaultRestrictionTimeout),
	}

	for _, opt := range append(defaultOpts, opts...) {
		opt(&c)
	}

	return c
}

// NewRestrictionManager fetches restrictions for serviceName once, then
// keeps them fresh in the background until Close is called. Fetch failures
// emit EventRestrictionsFetchFailure and keep the previous restrictions.
func NewRestrictionManager(serviceName string, opts ...RestrictionOption) *RestrictionManager {
	c := newRestrictionConfig(opts...)

	m := &RestrictionManager{
		serviceName:  serviceName,
		address:      fmt.Sprintf("%s%s", c.address, restrictionsPath),
		timeout:      c.timeout,
		client:       &http.Client{Timeout: c.timeout},
		restrictions: make(map[string]int),
		ticker:       time.NewTicker(c.refreshInterval),
		stopPoll:     make(chan struct{}),
	}

	m.updateRestrictions()
	m.pollStopped.Add(1)
	go m.pollLoop()
	return m
}

// IsValidKey reports whether the key may propagate, and the longest value it
// accepts.
func (m *RestrictionManager) IsValidKey(key string) (bool, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return true, DefaultMaxValueLength
	}
	if maxValueLength, ok := m.restrictions[key]; ok {
		return true, maxValueLength
	}
	return false, 0
}

// DeniedFields returns the subset of fields whose keys may not propagate,
// in input order. The result feeds ToMapFilteringFields.
func (m *RestrictionManager) DeniedFields(fields []*Field) []*Field {
	var denied []*Field
	for _, field := range fields {
		if ok, _ := m.IsValidKey(field.Name()); !ok {
			denied = append(denied, field)
		}
	}
	return denied
}

// Close stops the poll goroutine and waits for it to exit.
func (m *RestrictionManager) Close() {
	close(m.stopPoll)
	m.pollStopped.Wait()
}

func (m *RestrictionManager) pollLoop() {
	defer m.pollStopped.Done()
	defer m.ticker.Stop()

	for {
		select {
		case <-m.ticker.C:
			m.updateRestrictions()
		case <-m.stopPoll:
			return
		}
	}
}

func (m *RestrictionManager) updateRestrictions() {
	restrictions, err := m.fetchRestrictions()
	if err != nil {
		emitEvent(newEventRestrictionsFetchFailure(err))
		return
	}

	byKey := make(map[string]int, len(restrictions))
	for _, r := range restrictions {
		maxValueLength := r.MaxValueLength
		if maxValueLength <= 0 {
			maxValueLength = DefaultMaxValueLength
		}
		byKey[r.BaggageKey] = maxValueLength
	}

	m.mu.Lock()
	m.restrictions = byKey
	m.initialized = true
	m.mu.Unlock()
}

func (m *RestrictionManager) fetchRestrictions() ([]Restriction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	v := url.Values{}
	v.Set("service", m.serviceName)

	req, err := http.NewRequest(http.MethodGet, m.address+"?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set(acceptHeader, jsonContentType)

	res, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching baggage restrictions")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching baggage restrictions: status %d", res.StatusCode)
	}

	var restrictions []Restriction
	if err := json.NewDecoder(res.Body).Decode(&restrictions); err != nil {
		return nil, errors.Wrap(err, "decoding baggage restrictions")
	}
	return restrictions, nil
}
