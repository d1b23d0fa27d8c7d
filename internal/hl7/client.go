package hl7

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

type MLLPClient struct {
	host    string
	port    int
	timeout time.Duration
}

func NewMLLPClient(host string, port int) *MLLPClient {
	return &MLLPClient{
		host:    host,
		port:    port,
		timeout: 30 * time.Second,
	}
}

// Send delivers one message and waits for its acknowledgement. A negative
// ACK is returned as an error together with its code.
func (c *MLLPClient) Send(ctx context.Context, message []byte) (string, error) {
	addr := net.JoinHostPort(c.host, fmt.Sprint(c.port))

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	wrapped := WrapMLLP(message)
	if _, err := conn.Write(wrapped); err != nil {
		return "", fmt.Errorf("write message: %w", err)
	}
	slog.Debug("MLLP message sent", "address", addr, "size", len(wrapped))

	ack, err := ReadMLLP(bufio.NewReader(conn))
	if err != nil {
		return "", fmt.Errorf("read ACK: %w", err)
	}

	code, err := AckCode(ack)
	if err != nil {
		return "", fmt.Errorf("parse ACK: %w", err)
	}
	if code != AckAccept && code != "CA" {
		return code, fmt.Errorf("negative ACK received: %s", code)
	}
	return code, nil
}
