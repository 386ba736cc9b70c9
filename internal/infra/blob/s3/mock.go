package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store backed by an in-memory fake S3 endpoint.
// Only the operations used by core.Store are implemented.
func NewMockForTests() *Store {
	rt := &mockTransport{objects: make(map[string]mockObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return newWithClient(client, "mock-bucket", "cmip6")
}

type mockObject struct {
	body        []byte
	contentType string
}

type mockTransport struct {
	mu      sync.Mutex
	objects map[string]mockObject
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := m.objects[key]
		if !ok {
			return response(http.StatusNotFound, nil, nil), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"ETag":           {"\"mock-etag\""},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return response(http.StatusOK, nil, header), nil
		}
		return response(http.StatusOK, obj.body, header), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		if _, exists := m.objects[key]; !exists {
			m.objects[key] = mockObject{body: body, contentType: req.Header.Get("Content-Type")}
		}
		return response(http.StatusOK, nil, http.Header{"ETag": {"\"mock-etag\""}}), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return response(http.StatusNoContent, nil, nil), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

func (m *mockTransport) list(prefix string) *http.Response {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return response(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func response(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header}
}

// decodeChunked unwraps a single-chunk aws-chunked payload:
// <hex size>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	head, rest, ok := bytes.Cut(b, []byte("\r\n"))
	if !ok {
		return nil, false
	}
	sizeHex, _, _ := bytes.Cut(head, []byte(";"))
	n, err := strconv.ParseInt(string(sizeHex), 16, 64)
	if err != nil || n < 0 || int64(len(rest)) < n+2 {
		return nil, false
	}
	body, tail := rest[:n], rest[n:]
	if !bytes.HasPrefix(tail, []byte("\r\n0")) {
		return nil, false
	}
	return body, true
}
