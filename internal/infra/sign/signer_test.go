package sign

import (
	"net/url"
	"strings"
	"testing"
)

func TestBuildSignedRequestDeterministic(t *testing.T) {
	s := New(KeyPair{APIKey: "key", Secret: "secret"})
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("side", "BUY")

	r1 := s.BuildSignedRequest("POST", "/api/v3/order", params, 1700000000000)
	r2 := s.BuildSignedRequest("POST", "/api/v3/order", params, 1700000000000)
	if r1.Query != r2.Query {
		t.Fatalf("подпись нестабильна:\n%s\n%s", r1.Query, r2.Query)
	}
	if !strings.Contains(r1.Query, "timestamp=1700000000000") {
		t.Fatalf("нет timestamp: %s", r1.Query)
	}
	if !strings.Contains(r1.Query, "&signature=") {
		t.Fatalf("нет подписи: %s", r1.Query)
	}
	if r1.APIKey != "key" {
		t.Fatalf("api key=%q", r1.APIKey)
	}
}

func TestBuildSignedRequestStableOrder(t *testing.T) {
	s := New(KeyPair{APIKey: "key", Secret: "secret"})

	// одинаковый набор параметров, разный порядок вставки
	a := url.Values{}
	a.Set("symbol", "BTCUSDT")
	a.Set("quantity", "1")
	b := url.Values{}
	b.Set("quantity", "1")
	b.Set("symbol", "BTCUSDT")

	ra := s.BuildSignedRequest("POST", "/api/v3/order", a, 42)
	rb := s.BuildSignedRequest("POST", "/api/v3/order", b, 42)
	if ra.Query != rb.Query {
		t.Fatalf("канонизация зависит от порядка вставки:\n%s\n%s", ra.Query, rb.Query)
	}
}

func TestBuildSignedRequestInputSensitivity(t *testing.T) {
	s := New(KeyPair{APIKey: "key", Secret: "secret"})
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")

	base := s.BuildSignedRequest("POST", "/api/v3/order", params, 42)

	// другой timestamp
	other := s.BuildSignedRequest("POST", "/api/v3/order", params, 43)
	if sigOf(t, base.Query) == sigOf(t, other.Query) {
		t.Fatal("подпись не зависит от timestamp")
	}

	// другой секрет
	s2 := New(KeyPair{APIKey: "key", Secret: "secret2"})
	other = s2.BuildSignedRequest("POST", "/api/v3/order", params, 42)
	if sigOf(t, base.Query) == sigOf(t, other.Query) {
		t.Fatal("подпись не зависит от секрета")
	}

	// другой параметр
	params2 := url.Values{}
	params2.Set("symbol", "ETHUSDT")
	other = s.BuildSignedRequest("POST", "/api/v3/order", params2, 42)
	if sigOf(t, base.Query) == sigOf(t, other.Query) {
		t.Fatal("подпись не зависит от параметров")
	}
}

func TestKeyPairRedacted(t *testing.T) {
	k := KeyPair{APIKey: "AKIA", Secret: "hunter2"}
	s := k.String()
	if strings.Contains(s, "hunter2") || strings.Contains(s, "AKIA") {
		t.Fatalf("секрет утёк в String(): %s", s)
	}
}

func sigOf(t *testing.T, query string) string {
	t.Helper()
	i := strings.LastIndex(query, "signature=")
	if i < 0 {
		t.Fatalf("нет подписи в %q", query)
	}
	return query[i:]
}
