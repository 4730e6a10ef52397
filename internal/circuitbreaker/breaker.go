// Package circuitbreaker provides a defensive mechanism to protect against extreme market conditions
// and erroneous indexer data in the metrics engine.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/goldbtc-metrics/internal/model"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, derived metrics are not published
	StateHalfOpen              // Testing if data has recovered
)

// CircuitBreaker implements the circuit breaker pattern to protect consumers
// from publishing derived metrics built on abnormal market data.
type CircuitBreaker struct {
	// Configuration thresholds for triggering the circuit breaker
	thresholds Thresholds

	// Current state of the circuit breaker (Closed, Open, HalfOpen)
	state State

	// Timestamp of the last circuit trip
	lastTrip time.Time

	// Duration before auto-reset attempt
	resetDelay time.Duration

	// Mutex for thread safety
	mu sync.RWMutex

	// Last metrics that passed all checks, served as fallback while open
	lastGood *model.DerivedMetrics

	// Count of consecutive successful checks in HalfOpen state
	successCount int

	// Number of successful checks required to close circuit
	successThreshold int

	// Event callback for monitoring/alerting
	onTripCallback func(reason string, metrics *model.DerivedMetrics)
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Maximum allowed protocol APY in percent (e.g., 1000 for 1000%)
	MaxAPY float64 `json:"max_apy"`

	// Maximum allowed change in TVL between consecutive checks (e.g., 0.5 for 50%)
	MaxTVLChange float64 `json:"max_tvl_change"`

	// Maximum allowed ratio deviation from the 50/50 target in percentage points
	MaxRatioDeviation float64 `json:"max_ratio_deviation"`
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful checks needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, metrics *model.DerivedMetrics)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Check evaluates freshly derived metrics against the thresholds and determines
// whether they may be published. If the circuit is open, it blocks and returns
// an error. If the metrics violate thresholds, it trips the circuit and returns
// an error.
func (cb *CircuitBreaker) Check(metrics *model.DerivedMetrics) error {
	// Acquire a read lock initially to check state
	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	// If circuit is open, check if it's time for a reset attempt
	if state == StateOpen {
		if time.Since(lastTripTime) > cb.resetDelay {
			cb.transitionToHalfOpen()
		} else {
			return errors.New("circuit breaker open: system protection engaged")
		}
	}

	// Now get a write lock for the actual check and potential state modification
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if metrics == nil {
		return errors.New("no metrics provided to circuit breaker")
	}

	if metrics.TVL < 0 {
		reason := fmt.Sprintf("negative TVL: %f", metrics.TVL)
		cb.trip(reason, metrics)
		return errors.New(reason)
	}

	if metrics.ProtocolAPY > cb.thresholds.MaxAPY {
		reason := fmt.Sprintf("APY exceeds maximum threshold: %f > %f",
			metrics.ProtocolAPY, cb.thresholds.MaxAPY)
		cb.trip(reason, metrics)
		return errors.New(reason)
	}

	if cb.thresholds.MaxRatioDeviation > 0 && metrics.RatioDeviation > cb.thresholds.MaxRatioDeviation {
		reason := fmt.Sprintf("ratio deviation exceeds maximum threshold: %.2f > %.2f",
			metrics.RatioDeviation, cb.thresholds.MaxRatioDeviation)
		cb.trip(reason, metrics)
		return errors.New(reason)
	}

	// Check for drastic TVL changes against the last accepted metrics
	if cb.lastGood != nil {
		lastTVL := cb.lastGood.TVL

		// Only check if we have substantial TVL (avoid division by zero or small number issues)
		if lastTVL > 1.0 {
			changeRatio := math.Abs(metrics.TVL-lastTVL) / lastTVL
			if changeRatio > cb.thresholds.MaxTVLChange {
				reason := fmt.Sprintf("TVL change too drastic: %.2f%% (threshold: %.2f%%)",
					changeRatio*100, cb.thresholds.MaxTVLChange*100)
				cb.trip(reason, metrics)
				return errors.New(reason)
			}
		}
	}

	// All checks passed, record metrics and update state
	logrus.Debug("Circuit breaker checks passed")

	snapshot := *metrics
	cb.lastGood = &snapshot

	// If we're in half-open state, increment success count and check if we can close
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: data has recovered")
		}
	}

	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGoodMetrics returns a copy of the most recent metrics that passed all
// checks, or nil if none exist yet. Served to clients while the circuit is open.
func (cb *CircuitBreaker) LastGoodMetrics() *model.DerivedMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.lastGood == nil {
		return nil
	}

	snapshot := *cb.lastGood
	return &snapshot
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing data recovery")
	}
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string, metrics *model.DerivedMetrics) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	// Call the callback if registered
	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, metrics)
	}
}
