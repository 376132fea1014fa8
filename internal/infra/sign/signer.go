// Package sign — детерминированная подпись исходящих запросов.
// Секрет живёт только здесь: ни движок стакана, ни вызывающий код
// его не видят.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// KeyPair — ключ API + секрет. Печатается только в замазанном виде.
type KeyPair struct {
	APIKey string `json:"api_key"`
	Secret string `json:"secret"`
}

func (k KeyPair) String() string { return "KeyPair(api_key=***, secret=***)" }

// SignedRequest — всё, что нужно транспорту для отправки: метод, путь,
// каноническая строка запроса с подписью и ключ для auth-заголовка.
type SignedRequest struct {
	Method string
	Path   string
	Query  string
	APIKey string
}

type Signer struct {
	keys         KeyPair
	recvWindowMS int64
}

func New(keys KeyPair) *Signer { return &Signer{keys: keys} }

// WithRecvWindow задаёт окно валидности запроса на стороне биржи, мс.
func (s *Signer) WithRecvWindow(ms int64) *Signer {
	s.recvWindowMS = ms
	return s
}

// BuildSignedRequest канонизирует параметры (ключи по возрастанию),
// добавляет timestamp, считает HMAC-SHA256 от канонической строки и
// прицепляет подпись последним параметром. Чистая функция от своих
// аргументов: время передаёт вызывающий, не wall clock.
func (s *Signer) BuildSignedRequest(method, path string, params url.Values, timestampMS int64) SignedRequest {
	q := canonical(params)

	var b strings.Builder
	b.WriteString(q)
	if b.Len() > 0 {
		b.WriteByte('&')
	}
	if s.recvWindowMS > 0 {
		b.WriteString("recvWindow=")
		b.WriteString(strconv.FormatInt(s.recvWindowMS, 10))
		b.WriteByte('&')
	}
	b.WriteString("timestamp=")
	b.WriteString(strconv.FormatInt(timestampMS, 10))

	payload := b.String()
	mac := hmac.New(sha256.New, []byte(s.keys.Secret))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	return SignedRequest{
		Method: method,
		Path:   path,
		Query:  payload + "&signature=" + signature,
		APIKey: s.keys.APIKey,
	}
}

// canonical — параметры в стабильном порядке, без URL-экранирования:
// значения уже отформатированы вызывающим.
func canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range params[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}
