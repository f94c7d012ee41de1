// Package server implements the line-delimited TCP front end: an accept
// loop bounded by maxConnections, per-connection framing bounded by
// maxLineBytes, and strictly-serial statement dispatch with one JSON
// response line per request.
package server

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"xeondb/internal/executor"
	"xeondb/internal/parser"
)

// Server accepts TCP connections and dispatches each line of input to the
// Executor, one statement at a time per connection.
type Server struct {
	addr           string
	maxLineBytes   int
	maxConnections int64

	exec *executor.Executor
	log  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	active   int64
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config carries the subset of the top-level config the server needs.
type Config struct {
	Host           string
	Port           uint16
	MaxLineBytes   int
	MaxConnections int
}

func New(cfg Config, exec *executor.Executor, log *zap.Logger) *Server {
	return &Server{
		addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))),
		maxLineBytes:   cfg.MaxLineBytes,
		maxConnections: int64(cfg.MaxConnections),
		exec:           exec,
		log:            log,
		stopCh:         make(chan struct{}),
	}
}

// Addr returns the bound listener address; valid only after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and begins accepting connections in the
// background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				if s.log != nil {
					s.log.Warn("accept error", zap.Error(err))
				}
				continue
			}
		}

		if atomic.AddInt64(&s.active, 1) > s.maxConnections {
			atomic.AddInt64(&s.active, -1)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer atomic.AddInt64(&s.active, -1)
	defer conn.Close()

	if s.log != nil {
		s.log.Debug("connection accepted", zap.String("remote", conn.RemoteAddr().String()))
	}

	sess := &executor.Session{}
	reader := bufio.NewReaderSize(conn, s.maxLineBytes+1)
	writer := bufio.NewWriter(conn)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		line, err := readLine(reader, s.maxLineBytes)
		if err != nil {
			if err == errLineTooLong {
				writeResponse(writer, executor.Response{"ok": false, "error": executor.ErrParse})
				return
			}
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		stmt, perr := parser.Parse(string(line))
		if perr != nil {
			writeResponse(writer, executor.Response{"ok": false, "error": executor.ErrParse})
			continue
		}

		resp := s.exec.Execute(sess, stmt)
		writeResponse(writer, resp)
	}
}

func writeResponse(w *bufio.Writer, resp executor.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"ok":false,"error":"internal_error"}`)
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

// Stop halts the accept loop, closes the listener and waits for every
// in-flight connection handler to return: stop accepting, finish
// in-flight statements, then exit.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}
