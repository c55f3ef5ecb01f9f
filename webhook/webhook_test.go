package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeliver_Signed(t *testing.T) {
	var (
		gotSig  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(time.Second, 0)
	err := c.Deliver(context.Background(), srv.URL, "s3cret", &Event{
		Type:  "batch.completed",
		JobID: "batch_1",
		Data:  map[string]int{"total": 2},
	})
	require.NoError(t, err)
	require.Equal(t, Sign("s3cret", gotBody), gotSig)

	var ev Event
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	require.Equal(t, "batch.completed", ev.Type)
	require.Equal(t, "batch_1", ev.JobID)
}

func TestDeliver_Unsigned(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	require.NoError(t, New(time.Second, 0).Deliver(context.Background(), srv.URL, "", &Event{Type: "x"}))
	require.Empty(t, gotSig)
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(time.Second, 3)
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	require.NoError(t, c.Deliver(context.Background(), srv.URL, "", &Event{Type: "x"}))
	require.Equal(t, int32(3), calls.Load())
}

func TestDeliver_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(time.Second, 3)
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	require.Error(t, c.Deliver(context.Background(), srv.URL, "", &Event{Type: "x"}))
	require.Equal(t, int32(1), calls.Load())
}

func TestSign(t *testing.T) {
	require.Equal(t, "sha256=a777724d943eb48dc69bca8a4a6d57a04db3f9ec7e1de4e581e860265bdf3032", Sign("key", []byte("{}")))
}

func TestDeliver_TimeoutBoundsEachAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	err := New(50*time.Millisecond, 0).Deliver(context.Background(), srv.URL, "", &Event{Type: "batch.completed"})
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}
