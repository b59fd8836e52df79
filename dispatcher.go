package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"MovieBridge/docstore"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
)

// Request is the part of an inbound request the handlers look at.
type Request struct {
	Method string
	Path   string
	Body   string
}

// ParseRequest extracts method, path and body from the bytes of a single read. It never fails: a request
// line with fewer than two tokens yields empty method and path, and a missing blank line yields no body.
func ParseRequest(raw []byte) *Request {
	text := strings.ToValidUTF8(string(raw), "\uFFFD")
	text = strings.ReplaceAll(text, "\x00", "")

	method, path := parseRequestLine(text)

	return &Request{
		Method: method,
		Path:   path,
		Body:   extractBody(text),
	}
}

func parseRequestLine(request string) (string, string) {
	line, _, _ := strings.Cut(request, "\n")

	parts := strings.Fields(line)
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}

	return "", ""
}

func extractBody(request string) string {
	_, body, found := strings.Cut(request, "\r\n\r\n")
	if !found {
		return ""
	}

	return strings.TrimSpace(body)
}

// HandlerFunc produces the response for one request. It must not return nil.
type HandlerFunc func(ctx context.Context, logger *slog.Logger, req *Request) *Response

type route struct {
	method string
	path   string
}

// Router matches the exact (method, path) pair of a request.
type Router struct {
	routes map[route]HandlerFunc
}

// NewRouter registers GET, POST, PUT and DELETE on /api/<name> for every entry of Resources.
func NewRouter(store docstore.Store, cache ResponseCache) *Router {
	validate := validator.New(validator.WithRequiredStructEnabled())

	r := &Router{routes: make(map[route]HandlerFunc)}

	for _, resource := range Resources {
		handler := NewResourceHandler(resource, store, cache, validate)
		path := "/api/" + resource.Name

		r.Handle("GET", path, handler.List)
		r.Handle("POST", path, handler.Create)
		r.Handle("PUT", path, handler.Update)
		r.Handle("DELETE", path, handler.Delete)
	}

	return r
}

// Handle registers handler for the method and path pair, replacing any previous registration.
func (r *Router) Handle(method, path string, handler HandlerFunc) {
	r.routes[route{method: method, path: path}] = handler
}

// Lookup returns the handler registered for method and path.
func (r *Router) Lookup(method, path string) (HandlerFunc, bool) {
	handler, ok := r.routes[route{method: method, path: path}]

	return handler, ok
}

// Dispatch runs the matching handler or answers 404.
func (r *Router) Dispatch(ctx context.Context, logger *slog.Logger, req *Request) *Response {
	handler, ok := r.Lookup(req.Method, req.Path)
	if !ok {
		return notFound()
	}

	return handler(ctx, logger, req)
}

// Routes lists the registered routes as "METHOD PATH", sorted.
func (r *Router) Routes() []string {
	routes := make([]string, 0, len(r.routes))

	for key := range r.routes {
		routes = append(routes, key.method+" "+key.path)
	}

	sort.Strings(routes)

	return routes
}

// Dispatcher serves exactly one request per connection.
type Dispatcher struct {
	router         *Router
	logger         *slog.Logger
	registry       metrics.Registry
	bufferSize     int
	readTimeout    time.Duration
	writeTimeout   time.Duration
	backendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher using the read buffer and the deadlines from cfg.
func NewDispatcher(cfg *Config, router *Router, logger *slog.Logger, registry metrics.Registry) *Dispatcher {
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	return &Dispatcher{
		router:         router,
		logger:         logger,
		registry:       registry,
		bufferSize:     cfg.Server.ReadBufferSize,
		readTimeout:    cfg.Server.ReadTimeout,
		writeTimeout:   cfg.Server.WriteTimeout,
		backendTimeout: cfg.Backend.Timeout,
	}
}

// ServeConn reads one request from conn, answers it and closes conn.
func (d *Dispatcher) ServeConn(conn net.Conn) {
	start := time.Now()

	logger := d.logger.With(slog.String("request_id", uuid.NewString()), slog.String("client", remoteAddr(conn)))

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Error closing connection", slog.String("error", err.Error()))
		}
	}()

	raw, err := d.readRequest(conn)
	if err != nil {
		logger.Error("Error reading request", slog.String("error", err.Error()))

		return
	}

	if len(raw) == d.bufferSize {
		logger.Warn("Request filled the read buffer and may be truncated", slog.Int("buffer_size", d.bufferSize))
	}

	req := ParseRequest(raw)

	logger.Debug("Received request", slog.String("method", req.Method), slog.String("path", req.Path))

	ctx, cancel := context.WithTimeout(context.Background(), d.backendTimeout)
	resp := d.router.Dispatch(ctx, logger, req)
	cancel()

	d.record(resp, start)

	if err = d.writeResponse(conn, resp); err != nil {
		logger.Error("Error writing response", slog.String("error", err.Error()))

		return
	}

	logger.Info(
		"Request handled",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
}

// readRequest performs a single bounded read. Anything beyond the buffer is not read.
func (d *Dispatcher) readRequest(conn net.Conn) ([]byte, error) {
	if d.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(d.readTimeout)); err != nil {
			return nil, fmt.Errorf("could not set read deadline: %w", err)
		}
	}

	buf := make([]byte, d.bufferSize)

	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("could not read request: %w", err)
	}

	return buf[:n], nil
}

func (d *Dispatcher) writeResponse(conn net.Conn, resp *Response) error {
	if d.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(d.writeTimeout)); err != nil {
			return fmt.Errorf("could not set write deadline: %w", err)
		}
	}

	writer := bufio.NewWriter(conn)

	if _, err := writer.Write(resp.Bytes()); err != nil {
		return fmt.Errorf("could not write response: %w", err)
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("could not flush response: %w", err)
	}

	return nil
}

func (d *Dispatcher) record(resp *Response, start time.Time) {
	metrics.GetOrRegisterMeter("requests", d.registry).Mark(1)
	metrics.GetOrRegisterTimer("requests.latency", d.registry).UpdateSince(start)
	metrics.GetOrRegisterCounter("responses."+strconv.Itoa(resp.StatusCode), d.registry).Inc(1)
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}

	return "unknown"
}
