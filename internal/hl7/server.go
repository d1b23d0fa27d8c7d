package hl7

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// PublishFunc hands an accepted message to the input topic.
type PublishFunc func(ctx context.Context, key string, raw []byte) error

// MLLPServer accepts ADT messages over MLLP and publishes them raw to the
// pipeline's input topic. Messages that do not tokenize are rejected with AR
// and never published.
type MLLPServer struct {
	port     int
	publish  PublishFunc
	listener net.Listener
	wg       sync.WaitGroup
}

func NewMLLPServer(port int, publish PublishFunc) *MLLPServer {
	return &MLLPServer{
		port:    port,
		publish: publish,
	}
}

func (s *MLLPServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener

	slog.Info("MLLP server started", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections(ctx)
	return nil
}

// Addr returns the bound listener address.
func (s *MLLPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *MLLPServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("Accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *MLLPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	slog.Debug("MLLP connection opened", "remoteAddr", remoteAddr)

	reader := bufio.NewReader(conn)

	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		message, err := ReadMLLP(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				slog.Debug("MLLP connection closed", "remoteAddr", remoteAddr)
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			slog.Error("Failed to read MLLP message", "error", err, "remoteAddr", remoteAddr)
			return
		}

		code, text := s.processMessage(ctx, message, remoteAddr)
		conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if _, err := conn.Write(CreateACK(message, code, text)); err != nil {
			slog.Error("Failed to write ACK", "error", err, "remoteAddr", remoteAddr)
			return
		}
	}
}

func (s *MLLPServer) processMessage(ctx context.Context, raw []byte, remoteAddr string) (string, string) {
	msg, err := Parse(raw)
	if err != nil {
		slog.Warn("Rejected MLLP message", "error", err, "remoteAddr", remoteAddr)
		return AckReject, err.Error()
	}

	key := RoutingKey(msg)
	if err := s.publish(ctx, key, raw); err != nil {
		slog.Error("Failed to publish MLLP message", "error", err, "controlID", msg.ControlID)
		return AckError, "publish failed"
	}

	slog.Info("MLLP message accepted",
		"controlID", msg.ControlID,
		"trigger", msg.Trigger,
		"key", key,
		"remoteAddr", remoteAddr)
	return AckAccept, ""
}

// RoutingKey is the visit number (PV1-19), else the patient id, else the
// message control id.
func RoutingKey(msg *Message) string {
	if v := msg.Segment("PV1", 0).Field(19).Value(); v != "" {
		return v
	}
	pid := msg.Segment("PID", 0)
	if v := pid.Field(2).Value(); v != "" {
		return v
	}
	if v := pid.Field(3).Value(); v != "" {
		return v
	}
	return msg.ControlID
}

// Stop closes the listener and waits for open connections to finish.
func (s *MLLPServer) Stop() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
