package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/protocol"
)

const (
	maxFrameSize = 64 * 1024
	idleTimeout  = 10 * time.Minute
)

var replyOK = []byte("ok")

// Receiver is the ingestion entry point the transports feed.
type Receiver interface {
	Receive(ctx context.Context, p protocol.Protocol, raw []byte) (*model.RawMessage, error)
}

// framing describes how one protocol's stream is cut into transmissions.
type framing struct {
	split bufio.SplitFunc
	reply []byte
}

func framingFor(p protocol.Protocol) (framing, error) {
	switch p {
	case protocol.GL200, protocol.GL300:
		return framing{split: terminatedBy('$')}, nil
	case protocol.GPS306A:
		return framing{split: terminatedBy(';'), reply: replyOK}, nil
	case protocol.SmartBDGPS:
		return framing{split: chunks, reply: replyOK}, nil
	}
	return framing{}, fmt.Errorf("no TCP framing for %s", p)
}

// terminatedBy splits after each terminator and keeps it in the frame.
// A trailing frame without terminator is delivered at EOF.
func terminatedBy(term byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		start := 0
		for start < len(data) && isSpace(data[start]) {
			start++
		}
		if i := bytes.IndexByte(data[start:], term); i >= 0 {
			end := start + i + 1
			return end, data[start:end], nil
		}
		if atEOF && start < len(data) {
			return len(data), bytes.TrimSpace(data[start:]), nil
		}
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
}

// chunks hands over whatever each read produced.
func chunks(data []byte, atEOF bool) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	return len(data), data, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\r' || b == '\n' || b == '\t'
}

// TCPServer accepts device connections for one protocol.
type TCPServer struct {
	port     int
	protocol protocol.Protocol
	framing  framing
	receiver Receiver
	logger   logrus.FieldLogger
	listener net.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewTCPServer(port int, p protocol.Protocol, receiver Receiver, logger logrus.FieldLogger) (*TCPServer, error) {
	f, err := framingFor(p)
	if err != nil {
		return nil, err
	}
	return &TCPServer{
		port:     port,
		protocol: p,
		framing:  f,
		receiver: receiver,
		logger:   logger.WithField("protocol", p),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (s *TCPServer) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %v", err)
	}

	s.logger.Infof("TCP server listening on port %d", s.Port())

	go s.acceptConnections()
	return nil
}

// Port is the bound port, useful when started on port 0.
func (s *TCPServer) Port() int {
	if s.listener == nil {
		return s.port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *TCPServer) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *TCPServer) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.WithError(err).Error("Error accepting connection")
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handleConnection(conn)
		}()
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log := s.logger.WithField("remote_addr", remote)
	log.Debug("New connection")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxFrameSize)
	scanner.Split(s.framing.split)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !scanner.Scan() {
			break
		}
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}
		data := make([]byte, len(frame))
		copy(data, frame)

		rec, err := s.receiver.Receive(context.Background(), s.protocol, data)
		switch {
		case errors.Is(err, protocol.ErrHeartbeat):
			log.Debug("Heartbeat")
		case err != nil:
			log.WithError(err).Warn("Error receiving transmission")
		default:
			log.WithField("raw_id", rec.ID).Debug("Transmission received")
		}

		if s.framing.reply != nil {
			if _, err := conn.Write(s.framing.reply); err != nil {
				log.WithError(err).Warn("Error writing reply")
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithError(err).Debug("Connection closed")
	}
}
