package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sifan077/TempLink/internal/app/model"
	"github.com/sifan077/TempLink/internal/app/repository"
)

const (
	identifierAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	DefaultIdentifierLength = 7
	DefaultMaxAttempts      = 8
	DefaultMaxLength        = 12

	// Per generation. A generation is retired when full or after one link
	// lifetime, so the false-positive rate never drifts above the target.
	issuedFilterCapacity = 100_000
	issuedFilterFPRate   = 0.001
)

// ErrAllocationExhausted is returned when no free identifier could be found.
var ErrAllocationExhausted = errors.New("identifier space exhausted")

// IdentifierAllocator hands out random identifiers that are not held by an active link.
type IdentifierAllocator struct {
	links       repository.LinkRepository
	length      int
	maxLength   int
	maxAttempts int
	random      io.Reader

	mu       sync.Mutex
	current  *issuedGeneration
	previous *issuedGeneration
	capacity uint
	window   time.Duration
	now      func() time.Time
}

// issuedGeneration is one rotation slot of the recently-issued filter.
type issuedGeneration struct {
	filter  *bloom.BloomFilter
	count   uint
	started time.Time
}

func newIssuedGeneration(capacity uint, started time.Time) *issuedGeneration {
	return &issuedGeneration{
		filter:  bloom.NewWithEstimates(capacity, issuedFilterFPRate),
		started: started,
	}
}

// NewIdentifierAllocator returns an allocator starting at length characters.
func NewIdentifierAllocator(links repository.LinkRepository, length int) *IdentifierAllocator {
	if length <= 0 {
		length = DefaultIdentifierLength
	}
	maxLength := DefaultMaxLength
	if maxLength < length {
		maxLength = length
	}
	now := time.Now()
	return &IdentifierAllocator{
		links:       links,
		length:      length,
		maxLength:   maxLength,
		maxAttempts: DefaultMaxAttempts,
		random:      rand.Reader,
		current:     newIssuedGeneration(issuedFilterCapacity, now),
		previous:    newIssuedGeneration(issuedFilterCapacity, now),
		capacity:    issuedFilterCapacity,
		window:      model.LinkTTL,
		now:         time.Now,
	}
}

// Allocate returns a free identifier. After MaxAttempts registry collisions
// at one length the length grows by one, up to the configured maximum.
// Hits in the recently-issued filter have their own budget of MaxAttempts
// per length and never use up registry attempts.
func (a *IdentifierAllocator) Allocate(ctx context.Context) (string, error) {
	for length := a.length; length <= a.maxLength; length++ {
		skips := 0
		for attempt := 0; attempt < a.maxAttempts; {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			id, err := a.generate(length)
			if err != nil {
				return "", err
			}
			if a.recentlyIssued(id) {
				skips++
				if skips >= a.maxAttempts {
					break
				}
				continue
			}
			attempt++

			exists, err := a.links.Exists(ctx, id)
			if err != nil {
				return "", fmt.Errorf("check identifier: %w", err)
			}
			if !exists {
				return id, nil
			}
		}
	}
	return "", ErrAllocationExhausted
}

// MarkIssued records an identifier that was written to the registry.
func (a *IdentifierAllocator) MarkIssued(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotateLocked()
	a.current.filter.AddString(id)
	a.current.count++
}

func (a *IdentifierAllocator) recentlyIssued(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotateLocked()
	return a.current.filter.TestString(id) || a.previous.filter.TestString(id)
}

// rotateLocked retires the older generation once the current one is full
// or has been filling for a whole link lifetime.
func (a *IdentifierAllocator) rotateLocked() {
	now := a.now()
	if a.current.count < a.capacity && now.Sub(a.current.started) < a.window {
		return
	}
	retired := a.previous
	retired.filter.ClearAll()
	retired.count = 0
	retired.started = now
	a.previous, a.current = a.current, retired
}

func (a *IdentifierAllocator) generate(length int) (string, error) {
	max := big.NewInt(int64(len(identifierAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(a.random, max)
		if err != nil {
			return "", fmt.Errorf("generate identifier: %w", err)
		}
		buf[i] = identifierAlphabet[n.Int64()]
	}
	return string(buf), nil
}
