package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redirectServer(t *testing.T, hits *int32, release <-chan struct{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/station", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if release != nil {
			<-release
		}
		http.Redirect(w, r, "/live?zt=a.eyJleHAiOjEwMTV9.c", http.StatusFound)
	})
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0xFF, 0xFB, 0x90, 0x00})
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveLiveURL_FollowsRedirect(t *testing.T) {
	var hits int32
	srv := redirectServer(t, &hits, nil)

	var outcomes []string
	r := NewResolver(ResolverConfig{
		Observer: func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) },
	})

	live, err := r.ResolveLiveURL(context.Background(), srv.URL+"/station")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/live?zt=a.eyJleHAiOjEwMTV9.c", live)

	claim, err := ParseClaim(live, DefaultParam)
	require.NoError(t, err)
	assert.Equal(t, int64(1015), claim.ExpiresAt)
	assert.Equal(t, []string{ProbeResolved}, outcomes)
}

func TestResolveLiveURL_FailureReturnsBase(t *testing.T) {
	var hits int32
	srv := redirectServer(t, &hits, nil)
	r := NewResolver(ResolverConfig{})

	base := srv.URL + "/gone"
	live, err := r.ResolveLiveURL(context.Background(), base)
	assert.ErrorIs(t, err, ErrProbeStatus)
	assert.Equal(t, base, live)
}

func TestResolveLiveURL_Timeout(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	srv := redirectServer(t, &hits, release)
	defer close(release)

	r := NewResolver(ResolverConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	base := srv.URL + "/station"
	live, err := r.ResolveLiveURL(ctx, base)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
	assert.Equal(t, base, live)
}

func TestResolveLiveURL_ConcurrentCallersShareProbe(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	srv := redirectServer(t, &hits, release)
	r := NewResolver(ResolverConfig{})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.ResolveLiveURL(context.Background(), srv.URL+"/station")
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 5*time.Millisecond)
	// Give the remaining callers time to join the in-flight probe.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	for _, res := range results {
		assert.Equal(t, srv.URL+"/live?zt=a.eyJleHAiOjEwMTV9.c", res)
	}
}

func TestResolveLiveURL_CircuitOpen(t *testing.T) {
	var hits int32
	srv := redirectServer(t, &hits, nil)
	r := NewResolver(ResolverConfig{BreakerThreshold: 1, BreakerReset: time.Hour})

	base := srv.URL + "/gone"
	_, err := r.ResolveLiveURL(context.Background(), base)
	require.Error(t, err)

	live, err := r.ResolveLiveURL(context.Background(), srv.URL+"/station")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, srv.URL+"/station", live)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestResolveLiveURL_LastCallerCancelsRequest(t *testing.T) {
	arrived := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := r.ResolveLiveURL(ctx, srv.URL+"/station")
		done <- err
	}()

	<-arrived
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("probe request kept running after its only caller left")
	}
}

func TestResolveLiveURL_SharedProbeOutlivesOneCaller(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	srv := redirectServer(t, &hits, release)
	r := NewResolver(ResolverConfig{})
	base := srv.URL + "/station"

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.ResolveLiveURL(ctx, base)
		first <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan string, 1)
	go func() {
		live, _ := r.ResolveLiveURL(context.Background(), base)
		second <- live
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	close(release)

	assert.Equal(t, srv.URL+"/live?zt=a.eyJleHAiOjEwMTV9.c", <-second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestResolveLiveURL_ErrorHidesToken(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	target := dead.URL + "/live?zt=a.c2VjcmV0LXBheWxvYWQ.c"
	dead.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{})
	_, err := r.ResolveLiveURL(context.Background(), srv.URL+"/station")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "c2VjcmV0LXBheWxvYWQ")
	assert.Contains(t, err.Error(), "zt=REDACTED")
}

func TestResolveLiveURL_AbandonedProbeKeepsBreakerClosed(t *testing.T) {
	arrived := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{BreakerThreshold: 1, BreakerReset: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.ResolveLiveURL(ctx, srv.URL+"/station")
	}()

	<-arrived
	cancel()
	<-done

	// give the abandoned probe time to unwind
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, r.Breaker().Failures())
	assert.True(t, r.Breaker().CanAttempt())
}
