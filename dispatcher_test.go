package main

import (
	"bytes"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
)

type MockConn struct {
	readBuffer    *bytes.Buffer
	writeBuffer   *bytes.Buffer
	closeCalled   bool
	readDeadline  time.Time
	writeDeadline time.Time
}

func NewMockConn(readData []byte) *MockConn {
	return &MockConn{
		readBuffer:  bytes.NewBuffer(readData),
		writeBuffer: &bytes.Buffer{},
	}
}

func (m *MockConn) Read(b []byte) (n int, err error) {
	return m.readBuffer.Read(b)
}

func (m *MockConn) Write(b []byte) (n int, err error) {
	return m.writeBuffer.Write(b)
}

func (m *MockConn) Close() error {
	m.closeCalled = true

	return nil
}

func (m *MockConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080}
}

func (m *MockConn) RemoteAddr() net.Addr {
	return &net.IPAddr{IP: net.ParseIP("127.0.0.1")}
}

func (m *MockConn) SetDeadline(t time.Time) error {
	m.readDeadline = t
	m.writeDeadline = t

	return nil
}

func (m *MockConn) SetReadDeadline(t time.Time) error {
	m.readDeadline = t

	return nil
}

func (m *MockConn) SetWriteDeadline(t time.Time) error {
	m.writeDeadline = t

	return nil
}

func testConfig() *Config {
	cfg := &Config{
		Server: Server{
			Listen:     Listen{Address: "127.0.0.1", Port: 8080},
			WorkerPool: WorkerPoolConfig{MaxWorkers: 4},
		},
		Backend: Backend{URL: "http://127.0.0.1:9"},
	}

	if err := cfg.HandleConfig(); err != nil {
		panic(err)
	}

	return cfg
}

func newTestDispatcher(cfg *Config, store *fakeStore, registry metrics.Registry) *Dispatcher {
	return NewDispatcher(cfg, NewRouter(store, nil), discardLogger(), registry)
}

const movieBody = `{"title":"Inception","director":"Christopher Nolan","release_year":2010}`

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantMethod string
		wantPath   string
		wantBody   string
	}{
		{
			name:       "request line only",
			raw:        "GET /api/movies HTTP/1.0\r\n\r\n",
			wantMethod: "GET",
			wantPath:   "/api/movies",
		},
		{
			name:       "headers and body",
			raw:        "POST /api/movies HTTP/1.1\r\nHost: x\r\nContent-Length: 2\r\n\r\n{}",
			wantMethod: "POST",
			wantPath:   "/api/movies",
			wantBody:   "{}",
		},
		{
			name:       "no blank line means no body",
			raw:        "PUT /api/actors HTTP/1.0\r\nHost: x\r\n",
			wantMethod: "PUT",
			wantPath:   "/api/actors",
		},
		{
			name: "single token",
			raw:  "GET\r\n\r\n",
		},
		{
			name: "empty input",
			raw:  "",
		},
		{
			name:       "bare newline line ending",
			raw:        "DELETE /api/reviews\n",
			wantMethod: "DELETE",
			wantPath:   "/api/reviews",
		},
		{
			name:       "invalid UTF-8 is replaced",
			raw:        "GET /api/\xffmovies HTTP/1.0\r\n\r\n",
			wantMethod: "GET",
			wantPath:   "/api/\uFFFDmovies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ParseRequest([]byte(tt.raw))

			if req.Method != tt.wantMethod || req.Path != tt.wantPath || req.Body != tt.wantBody {
				t.Errorf("ParseRequest(%q) = %+v, want method=%q path=%q body=%q", tt.raw, req, tt.wantMethod, tt.wantPath, tt.wantBody)
			}
		})
	}
}

func TestRouterRoutes(t *testing.T) {
	router := NewRouter(newFakeStore(), nil)
	routes := router.Routes()

	if len(routes) != 12 {
		t.Fatalf("expected 12 routes, got %d: %v", len(routes), routes)
	}

	for _, resource := range []string{"movies", "actors", "reviews"} {
		for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
			if _, ok := router.Lookup(method, "/api/"+resource); !ok {
				t.Errorf("missing route %s /api/%s", method, resource)
			}
		}
	}

	for _, miss := range [][2]string{{"PATCH", "/api/movies"}, {"GET", "/api/movies/"}, {"get", "/api/movies"}, {"GET", "/api/directors"}} {
		if _, ok := router.Lookup(miss[0], miss[1]); ok {
			t.Errorf("unexpected route %s %s", miss[0], miss[1])
		}
	}
}

func TestDispatcherServeConn(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		backendErr error
		wantStatus string
		wantBody   string
		wantCalls  int
	}{
		{
			name:       "list empty collection",
			raw:        "GET /api/movies HTTP/1.0\r\n\r\n",
			wantStatus: "HTTP/1.0 200 OK",
			wantBody:   "[]",
			wantCalls:  1,
		},
		{
			name:       "create movie",
			raw:        "POST /api/movies HTTP/1.0\r\n\r\n" + movieBody,
			wantStatus: "HTTP/1.0 201 CREATED",
			wantBody:   "Movie created",
			wantCalls:  1,
		},
		{
			name:       "create movie with failing backend",
			raw:        "POST /api/movies HTTP/1.0\r\n\r\n" + movieBody,
			backendErr: errors.New("backend down"),
			wantStatus: "HTTP/1.0 500 INTERNAL SERVER ERROR",
			wantBody:   "Failed to create movie",
			wantCalls:  1,
		},
		{
			name:       "update actor without id",
			raw:        "PUT /api/actors HTTP/1.0\r\n\r\n{\"name\":\"X\"}",
			wantStatus: "HTTP/1.0 400 BAD REQUEST",
			wantBody:   "400 - Bad Request",
		},
		{
			name:       "delete review with failing backend",
			raw:        "DELETE /api/reviews HTTP/1.0\r\n\r\n{\"id\":\"abc\"}",
			backendErr: errors.New("backend down"),
			wantStatus: "HTTP/1.0 500 INTERNAL SERVER ERROR",
			wantBody:   "Failed to delete review",
			wantCalls:  1,
		},
		{
			name:       "unknown path",
			raw:        "GET /unknown HTTP/1.0\r\n\r\n",
			wantStatus: "HTTP/1.0 404 NOT FOUND",
			wantBody:   "404 - Not Found",
		},
		{
			name:       "unsupported method",
			raw:        "PATCH /api/movies HTTP/1.0\r\n\r\n{}",
			wantStatus: "HTTP/1.0 404 NOT FOUND",
			wantBody:   "404 - Not Found",
		},
		{
			name:       "malformed request line",
			raw:        "GARBAGE\r\n\r\n",
			wantStatus: "HTTP/1.0 404 NOT FOUND",
			wantBody:   "404 - Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore().failWith(tt.backendErr)
			d := newTestDispatcher(testConfig(), store, nil)
			conn := NewMockConn([]byte(tt.raw))

			d.ServeConn(conn)

			got := conn.writeBuffer.String()
			want := tt.wantStatus + "\r\nContent-Length: " + strconv.Itoa(len(tt.wantBody)) + "\r\n\r\n" + tt.wantBody

			if got != want {
				t.Errorf("response = %q, want %q", got, want)
			}

			if !conn.closeCalled {
				t.Error("connection was not closed")
			}

			if calls := len(store.Calls()); calls != tt.wantCalls {
				t.Errorf("expected %d backend calls, got %d: %v", tt.wantCalls, calls, store.Calls())
			}

			if conn.readDeadline.IsZero() || conn.writeDeadline.IsZero() {
				t.Error("expected read and write deadlines to be set")
			}
		})
	}
}

func TestDispatcherTruncatedRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ReadBufferSize = 64

	store := newFakeStore()
	d := newTestDispatcher(cfg, store, nil)
	conn := NewMockConn([]byte("POST /api/movies HTTP/1.0\r\n\r\n" + movieBody))

	d.ServeConn(conn)

	if !strings.HasPrefix(conn.writeBuffer.String(), "HTTP/1.0 400 BAD REQUEST\r\n") {
		t.Errorf("expected 400 for a truncated body, got %q", conn.writeBuffer.String())
	}

	if len(store.Calls()) != 0 {
		t.Errorf("backend must not be called, got %v", store.Calls())
	}
}

func TestDispatcherEmptyConnection(t *testing.T) {
	conn := NewMockConn(nil)

	newTestDispatcher(testConfig(), newFakeStore(), nil).ServeConn(conn)

	if conn.writeBuffer.Len() != 0 {
		t.Errorf("expected no response for a connection without data, got %q", conn.writeBuffer.String())
	}

	if !conn.closeCalled {
		t.Error("connection was not closed")
	}
}

func TestDispatcherMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	d := newTestDispatcher(testConfig(), newFakeStore(), registry)

	d.ServeConn(NewMockConn([]byte("GET /api/actors HTTP/1.0\r\n\r\n")))
	d.ServeConn(NewMockConn([]byte("GET /nowhere HTTP/1.0\r\n\r\n")))
	d.ServeConn(NewMockConn([]byte("GET /nowhere HTTP/1.0\r\n\r\n")))

	if n := metrics.GetOrRegisterMeter("requests", registry).Snapshot().Count(); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}

	if n := metrics.GetOrRegisterCounter("responses.200", registry).Snapshot().Count(); n != 1 {
		t.Errorf("expected one 200, got %d", n)
	}

	if n := metrics.GetOrRegisterCounter("responses.404", registry).Snapshot().Count(); n != 2 {
		t.Errorf("expected two 404, got %d", n)
	}
}
