package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	fmt.Println("MovieBridge client")

	// Parse command-line flags
	address := pflag.String("address", "127.0.0.1:8080", "The server address")
	method := pflag.String("method", "GET", "The request method: GET, POST, PUT or DELETE")
	path := pflag.String("path", "/api/movies", "The request path")
	body := pflag.String("body", "", "The JSON body, '@file' reads it from a file")
	timeout := pflag.Duration("timeout", 10*time.Second, "Dial and I/O timeout")

	pflag.Parse()

	if *address == "" || *method == "" || *path == "" {
		fmt.Println("Usage: --address <host:port> --method <GET|POST|PUT|DELETE> --path <path> [--body <json|@file>]")

		os.Exit(1)
	}

	payload := *body
	if strings.HasPrefix(payload, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(payload, "@"))
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to read body: %s\n", err)

			os.Exit(1)
		}

		payload = string(data)
	}

	// Create connection
	conn, err := net.DialTimeout("tcp", *address, *timeout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to connect: %s\n", err)

		os.Exit(1)
	}

	defer func(conn net.Conn) {
		_ = conn.Close()
	}(conn)

	_ = conn.SetDeadline(time.Now().Add(*timeout))

	fmt.Println("Connected successfully!")

	request := fmt.Sprintf("%s %s HTTP/1.0\r\nContent-Length: %d\r\n\r\n%s", strings.ToUpper(*method), *path, len(payload), payload)

	if _, err = conn.Write([]byte(request)); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to send request: %s\n", err)

		os.Exit(1)
	}

	fmt.Println("Request sent successfully!")

	reader := bufio.NewReader(conn)

	statusLine, err := reader.ReadString('\n')
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error while reading status line: %s\n", err)

		os.Exit(1)
	}

	contentLength := -1

	// Read headers up to the blank line
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error while reading headers: %s\n", err)

			os.Exit(1)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, found := strings.Cut(line, ":")
		if found && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			contentLength, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Invalid content length: %s\n", value)

				os.Exit(1)
			}
		}
	}

	var responseBody []byte

	if contentLength >= 0 {
		responseBody = make([]byte, contentLength)
		_, err = io.ReadFull(reader, responseBody)
	} else {
		responseBody, err = io.ReadAll(reader)
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error while reading response body: %s\n", err)

		os.Exit(1)
	}

	fmt.Printf("Status: %s\n", strings.TrimSpace(statusLine))
	fmt.Printf("Body: %s\n", string(responseBody))

	if !strings.Contains(statusLine, " 2") {
		os.Exit(2)
	}

	os.Exit(0)
}
