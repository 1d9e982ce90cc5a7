package activation_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/technosupport/ts-licensing/internal/activation"
	"github.com/technosupport/ts-licensing/internal/data"
)

// memStore keeps seats in memory. Claim deliberately yields between the
// count and the insert so unserialised callers would overshoot the cap.
type memStore struct {
	mu       sync.Mutex
	seats    map[string]map[string]data.Activation
	claimErr error
}

func newMemStore() *memStore {
	return &memStore{seats: make(map[string]map[string]data.Activation)}
}

func (s *memStore) seed(licenseID string, devices ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seats[licenseID] == nil {
		s.seats[licenseID] = make(map[string]data.Activation)
	}
	for _, d := range devices {
		t := time.Now().Add(-time.Hour)
		s.seats[licenseID][d] = data.Activation{ID: d, LicenseID: licenseID, DeviceID: d, ActivatedAt: t, LastSeenAt: t}
	}
}

func (s *memStore) Claim(ctx context.Context, licenseID, deviceID string, max *int, now time.Time) (data.ClaimResult, error) {
	if s.claimErr != nil {
		return data.ClaimResult{}, s.claimErr
	}

	s.mu.Lock()
	if s.seats[licenseID] == nil {
		s.seats[licenseID] = make(map[string]data.Activation)
	}
	if a, ok := s.seats[licenseID][deviceID]; ok {
		a.LastSeenAt = now
		s.seats[licenseID][deviceID] = a
		n := len(s.seats[licenseID])
		s.mu.Unlock()
		return data.ClaimResult{Refreshed: true, Count: n}, nil
	}
	count := len(s.seats[licenseID])
	s.mu.Unlock()

	runtime.Gosched()
	time.Sleep(time.Millisecond)

	if max != nil && count >= *max {
		return data.ClaimResult{LimitReached: true, Count: count}, nil
	}

	s.mu.Lock()
	s.seats[licenseID][deviceID] = data.Activation{ID: deviceID, LicenseID: licenseID, DeviceID: deviceID, ActivatedAt: now, LastSeenAt: now}
	n := len(s.seats[licenseID])
	s.mu.Unlock()
	return data.ClaimResult{Created: true, Count: n}, nil
}

func (s *memStore) ListByLicense(ctx context.Context, licenseID string) ([]data.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []data.Activation
	for _, a := range s.seats[licenseID] {
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, licenseID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seats[licenseID][deviceID]; !ok {
		return data.ErrRecordNotFound
	}
	delete(s.seats[licenseID], deviceID)
	return nil
}

func (s *memStore) lastSeen(licenseID, deviceID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seats[licenseID][deviceID].LastSeenAt
}

func intPtr(n int) *int { return &n }

// 1. M devices racing for N seats: exactly N win, re-runs never add seats
func TestEnsure_ConcurrentSeatCap(t *testing.T) {
	const seats, devices = 3, 12
	store := newMemStore()
	m := activation.NewManager(store, activation.NewLocalLocker(), activation.Options{})

	var granted, denied atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < devices; i++ {
		dev := fmt.Sprintf("dev-%02d", i)
		g.Go(func() error {
			_, err := m.Ensure(ctx, "lic-float", dev, intPtr(seats))
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, activation.ErrSeatLimitExceeded):
				denied.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(seats), granted.Load())
	assert.Equal(t, int32(devices-seats), denied.Load())

	acts, _ := store.ListByLicense(context.Background(), "lic-float")
	require.Len(t, acts, seats)

	// Same device, many times, concurrently
	winner := acts[0].DeviceID
	g2, ctx2 := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		g2.Go(func() error {
			out, err := m.Ensure(ctx2, "lic-float", winner, intPtr(seats))
			if err != nil {
				return err
			}
			if out.Current != seats {
				return fmt.Errorf("seat count moved to %d", out.Current)
			}
			return nil
		})
	}
	require.NoError(t, g2.Wait())
	n, err := m.Count(context.Background(), "lic-float")
	require.NoError(t, err)
	assert.Equal(t, seats, n)
}

// 2. Full license rejects a new device and reports the committed count
func TestEnsure_LimitReached(t *testing.T) {
	store := newMemStore()
	store.seed("lic-1", "dev-a", "dev-b")
	m := activation.NewManager(store, nil, activation.Options{})

	out, err := m.Ensure(context.Background(), "lic-1", "dev-c", intPtr(2))
	assert.ErrorIs(t, err, activation.ErrSeatLimitExceeded)
	assert.Equal(t, 2, out.Current)
	require.NotNil(t, out.Max)
	assert.Equal(t, 2, *out.Max)
}

// 3. Known device refreshes last seen and keeps the count
func TestEnsure_RefreshKnownDevice(t *testing.T) {
	store := newMemStore()
	store.seed("lic-1", "dev-a", "dev-b")
	now := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	m := activation.NewManager(store, nil, activation.Options{Now: func() time.Time { return now }})

	out, err := m.Ensure(context.Background(), "lic-1", "dev-a", intPtr(2))
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.False(t, out.Created)
	assert.Equal(t, 2, out.Current)
	assert.True(t, store.lastSeen("lic-1", "dev-a").Equal(now))
}

// 4. Unlimited floating license always takes a seat
func TestEnsure_Unlimited(t *testing.T) {
	store := newMemStore()
	store.seed("lic-1", "a", "b", "c", "d")
	m := activation.NewManager(store, nil, activation.Options{})

	out, err := m.Ensure(context.Background(), "lic-1", "e", nil)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, 5, out.Current)
}

// 5. Store failure is surfaced, never mistaken for a seat-limit outcome
func TestEnsure_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.claimErr = sql.ErrConnDone
	m := activation.NewManager(store, nil, activation.Options{})

	_, err := m.Ensure(context.Background(), "lic-1", "dev-a", intPtr(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, activation.ErrSeatLimitExceeded)
}

// 6. Release frees a seat for the next device
func TestRelease_FreesSeat(t *testing.T) {
	store := newMemStore()
	store.seed("lic-1", "dev-a", "dev-b")
	m := activation.NewManager(store, nil, activation.Options{})

	require.NoError(t, m.Release(context.Background(), "lic-1", "dev-a"))
	_, err := m.Ensure(context.Background(), "lic-1", "dev-c", intPtr(2))
	assert.NoError(t, err)

	assert.ErrorIs(t, m.Release(context.Background(), "lic-1", "ghost"), data.ErrRecordNotFound)
}

// 7. Empty device id is rejected before locking
func TestEnsure_DeviceRequired(t *testing.T) {
	m := activation.NewManager(newMemStore(), nil, activation.Options{})
	_, err := m.Ensure(context.Background(), "lic-1", "", intPtr(1))
	assert.ErrorIs(t, err, activation.ErrDeviceRequired)
}
