// Package storagetest provides an in-process S3-compatible server and a
// contract suite shared by the storage backend tests.
package storagetest

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ObjectServer is a minimal path-style S3 endpoint: HEAD/PUT on buckets and
// GET/PUT on objects. It is enough for both aws-sdk-go-v2 and minio-go.
type ObjectServer struct {
	*httptest.Server

	mu      sync.RWMutex
	buckets map[string]map[string][]byte

	failing  atomic.Bool
	requests atomic.Int64
	conns    atomic.Int64
}

type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

// NewObjectServer starts a server that is shut down when the test ends.
// Buckets listed in existing are created up front.
func NewObjectServer(t testing.TB, existing ...string) *ObjectServer {
	t.Helper()
	s := &ObjectServer{buckets: make(map[string]map[string][]byte)}
	for _, b := range existing {
		s.buckets[b] = make(map[string][]byte)
	}
	s.Server = httptest.NewUnstartedServer(http.HandlerFunc(s.serveHTTP))
	s.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			s.conns.Add(1)
		case http.StateClosed, http.StateHijacked:
			s.conns.Add(-1)
		}
	}
	s.Start()
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns host:port, the form minio-go expects
func (s *ObjectServer) Endpoint() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// SetFailing makes every subsequent request fail with 503 until reset
func (s *ObjectServer) SetFailing(failing bool) {
	s.failing.Store(failing)
}

// Requests returns the number of requests served so far
func (s *ObjectServer) Requests() int64 {
	return s.requests.Load()
}

// OpenConns returns the number of client connections currently open
func (s *ObjectServer) OpenConns() int64 {
	return s.conns.Load()
}

// HasBucket reports whether bucket was created
func (s *ObjectServer) HasBucket(bucket string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucket]
	return ok
}

// Object returns the raw stored bytes
func (s *ObjectServer) Object(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, false
	}
	v, ok := objects[key]
	return v, ok
}

func (s *ObjectServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	if s.failing.Load() {
		s.writeError(w, r, http.StatusServiceUnavailable, "SlowDown", "Please reduce your request rate.")
		return
	}

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket == "" {
		s.writeError(w, r, http.StatusBadRequest, "InvalidRequest", "bucket name required")
		return
	}

	if key == "" {
		s.serveBucket(w, r, bucket)
		return
	}
	s.serveObject(w, r, bucket, key)
}

func (s *ObjectServer) serveBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	switch r.Method {
	case http.MethodHead:
		if !s.HasBucket(bucket) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		io.Copy(io.Discard, r.Body)
		s.mu.Lock()
		_, exists := s.buckets[bucket]
		if !exists {
			s.buckets[bucket] = make(map[string][]byte)
		}
		s.mu.Unlock()
		if exists {
			s.writeError(w, r, http.StatusConflict, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.")
			return
		}
		w.Header().Set("Location", "/"+bucket)
		w.WriteHeader(http.StatusOK)
	default:
		s.writeError(w, r, http.StatusNotImplemented, "NotImplemented", "operation not supported")
	}
}

func (s *ObjectServer) serveObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.mu.RLock()
		objects, bucketOK := s.buckets[bucket]
		value, ok := objects[key]
		s.mu.RUnlock()

		if !bucketOK {
			s.writeError(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
			return
		}
		if !ok {
			s.writeError(w, r, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
			return
		}

		h := w.Header()
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Length", strconv.Itoa(len(value)))
		h.Set("ETag", etag(value))
		h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		h.Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(value)
		}
	case http.MethodPut:
		body, err := readPayload(r)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "IncompleteBody", err.Error())
			return
		}

		s.mu.Lock()
		objects, ok := s.buckets[bucket]
		if ok {
			objects[key] = body
		}
		s.mu.Unlock()

		if !ok {
			s.writeError(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
			return
		}
		w.Header().Set("ETag", etag(body))
		w.WriteHeader(http.StatusOK)
	default:
		s.writeError(w, r, http.StatusNotImplemented, "NotImplemented", "operation not supported")
	}
}

func (s *ObjectServer) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, xml.Header)
	xml.NewEncoder(w).Encode(errorResponse{
		Code:      code,
		Message:   message,
		Resource:  r.URL.Path,
		RequestID: "fake",
	})
}

func etag(value []byte) string {
	sum := md5.Sum(value)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// readPayload returns the object bytes, decoding aws-chunked uploads
func readPayload(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	chunked := strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked")
	if !chunked {
		return body, nil
	}
	return decodeAWSChunked(body)
}

// decodeAWSChunked parses "<hex-size>[;chunk-signature=...]\r\n<data>\r\n"
// frames up to the zero-length frame. Trailers after it are ignored.
func decodeAWSChunked(body []byte) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(body))
	var out bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		sizeField, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chunk size %q: %w", sizeField, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, fmt.Errorf("read chunk data: %w", err)
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("read chunk terminator: %w", err)
		}
	}
}
