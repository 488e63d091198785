package authorize

import (
	"context"
	"encoding/json"
	"evledger/ocpi/client"
	"evledger/ocpi/codec"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthorize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens/TAG%201/authorize" && r.URL.Path != "/tokens/TAG 1/authorize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var refs LocationReferences
		_ = json.NewDecoder(r.Body).Decode(&refs)
		status := "BLOCKED"
		if refs.LocationId == "LOC1" && len(refs.EvseUids) == 1 {
			status = "ALLOWED"
		}
		_ = json.NewEncoder(w).Encode(codec.Success(&Response{Allowed: status, Info: &DisplayText{Language: "en", Text: "ok"}}))
	}))
	defer server.Close()

	a := New(client.New(server.URL, "t"))
	result, err := a.Authorize(context.Background(), "LOC1", "LOC1-CP1", "TAG 1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !result.Allowed || result.Info != "ok" {
		t.Errorf("result = %+v", result)
	}
	result, err = a.Authorize(context.Background(), "", "", "TAG 1")
	if err != nil || result.Allowed || !result.Blocked {
		t.Errorf("without location: %+v, %v", result, err)
	}
}

func TestParseResponse(t *testing.T) {
	for _, body := range []string{"", "{}", "[1]"} {
		if _, err := ParseResponse([]byte(body)); err == nil {
			t.Errorf("ParseResponse(%q) accepted", body)
		}
	}
	res, err := ParseResponse([]byte(`{"allowed":"EXPIRED"}`))
	if err != nil || !NewFromResponse(res).Expired {
		t.Errorf("expired = %+v, %v", res, err)
	}
}
