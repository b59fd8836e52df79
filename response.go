package main

import (
	"fmt"
	"strconv"
)

const (
	StatusOK                  = 200
	StatusCreated             = 201
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusInternalServerError = 500
)

var reasonPhrases = map[int]string{
	StatusOK:                  "OK",
	StatusCreated:             "CREATED",
	StatusBadRequest:          "BAD REQUEST",
	StatusNotFound:            "NOT FOUND",
	StatusInternalServerError: "INTERNAL SERVER ERROR",
}

// Response is a fully rendered reply: status line, a Content-Length header and the body.
type Response struct {
	StatusCode int
	Body       string
}

// NewResponse creates a Response with the given status and body.
func NewResponse(statusCode int, body string) *Response {
	return &Response{StatusCode: statusCode, Body: body}
}

func badRequest() *Response {
	return NewResponse(StatusBadRequest, "400 - Bad Request")
}

func notFound() *Response {
	return NewResponse(StatusNotFound, "404 - Not Found")
}

// StatusLine returns the first line of the response without the trailing CRLF.
func (r *Response) StatusLine() string {
	reason, ok := reasonPhrases[r.StatusCode]
	if !ok {
		reason = "UNKNOWN"
	}

	return fmt.Sprintf("HTTP/1.0 %d %s", r.StatusCode, reason)
}

// Bytes renders the response in wire format.
func (r *Response) Bytes() []byte {
	buf := make([]byte, 0, len(r.Body)+64)

	buf = append(buf, r.StatusLine()...)
	buf = append(buf, "\r\nContent-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(r.Body)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, r.Body...)

	return buf
}

func (r *Response) String() string {
	return string(r.Bytes())
}
