package client

import (
	"context"
	"encoding/json"
	"errors"
	"evledger/ocpi/codec"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func writeEnvelope(w http.ResponseWriter, status int, envelope *codec.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

func newClient(url string) *Client {
	c := New(url, "secret")
	c.SetRetry(3, time.Millisecond)
	return c
}

func TestSend_Headers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Request-ID") == "" || r.Header.Get("X-Correlation-ID") == "" {
			t.Error("request ids missing")
		}
		writeEnvelope(w, http.StatusOK, codec.Success(map[string]string{"uid": "T1"}))
	}))
	defer server.Close()

	resp, err := newClient(server.URL).Send(context.Background(), http.MethodPost, "/tokens/T1/authorize", map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Data) != `{"uid":"T1"}` {
		t.Errorf("data = %s", resp.Data)
	}
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, http.StatusOK, codec.Success(nil))
	}))
	defer server.Close()

	if _, err := newClient(server.URL).Send(context.Background(), http.MethodGet, "/x", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSend_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusNotFound, codec.Failure(codec.NewError(codec.StatusUnknownToken, "unknown token")))
	}))
	defer server.Close()

	_, err := newClient(server.URL).Send(context.Background(), http.MethodGet, "/x", nil)
	var ocpiErr *codec.Error
	if !errors.As(err, &ocpiErr) || ocpiErr.Code != codec.StatusUnknownToken {
		t.Errorf("error = %v, want 2004", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSend_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newClient(server.URL).Send(context.Background(), http.MethodGet, "/x", nil)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestGetPages_FollowsLinks(t *testing.T) {
	const total = 7
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, limit, err := codec.ParsePage(r.URL.Query(), 10, 10)
		if err != nil {
			t.Errorf("page: %v", err)
		}
		var items []int
		for i := offset; i < offset+limit && i < total; i++ {
			items = append(items, i)
		}
		if link, ok := codec.BuildPaginationLink(r.URL.String(), server.URL, offset, limit, total); ok {
			w.Header().Set("Link", codec.LinkHeader(link))
		}
		w.Header().Set(codec.TotalCountHeader, strconv.Itoa(total))
		writeEnvelope(w, http.StatusOK, codec.Success(items))
	}))
	defer server.Close()

	var got []int
	err := newClient(server.URL).GetPages(context.Background(), "/tokens", 3, func(data json.RawMessage) error {
		var page []int
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		got = append(got, page...)
		return nil
	})
	if err != nil {
		t.Fatalf("GetPages: %v", err)
	}
	if fmt.Sprint(got) != "[0 1 2 3 4 5 6]" {
		t.Errorf("items = %v", got)
	}
}

func TestGetPages_StopsOnLinkLoop(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", codec.LinkHeader(server.URL+"/tokens?limit=1"))
		writeEnvelope(w, http.StatusOK, codec.Success([]int{1}))
	}))
	defer server.Close()

	err := newClient(server.URL).GetPages(context.Background(), server.URL+"/tokens", 1, func(json.RawMessage) error { return nil })
	if err == nil {
		t.Error("link loop not detected")
	}
}
