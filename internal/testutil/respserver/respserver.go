// Package respserver is a fake redis-protocol server for tests. It only
// depends on the standard library so any package may use it in tests.
package respserver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Server is an in-memory redis-protocol server. It supports
// PING, HGET, HGETALL and LRANGE and can delay replies per command name.
type Server struct {
	ln net.Listener

	mu     sync.Mutex
	hashes map[string]map[string]string
	lists  map[string][]string
	delays map[string]time.Duration
	conns  map[net.Conn]struct{}

	commands atomic.Int64
	wg       sync.WaitGroup
}

// New starts a server on a random local port and stops it when
// the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		ln:     ln,
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
		delays: make(map[string]time.Duration),
		conns:  make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// HSet stores a hash field.
func (s *Server) HSet(key, field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
}

// RPush appends to a list.
func (s *Server) RPush(key string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], values...)
}

// SetDelay delays every reply to cmd (case-insensitive) by d.
func (s *Server) SetDelay(cmd string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[strings.ToUpper(cmd)] = d
}

// Commands returns how many commands were served.
func (s *Server) Commands() int64 { return s.commands.Load() }

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the server.
func (s *Server) Close() {
	s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()
	r := bufio.NewReader(c)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		s.commands.Add(1)
		reply, delay := s.handle(args)
		if delay > 0 {
			time.Sleep(delay)
		}
		if _, err := io.WriteString(c, reply); err != nil {
			return
		}
	}
}

func (s *Server) handle(args []string) (string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(args) == 0 {
		return "-ERR empty command\r\n", 0
	}
	name := strings.ToUpper(args[0])
	delay := s.delays[name]
	switch {
	case name == "PING":
		return "+PONG\r\n", delay
	case name == "HGET" && len(args) == 3:
		v, ok := s.hashes[args[1]][args[2]]
		if !ok {
			return "$-1\r\n", delay
		}
		return bulk(v), delay
	case name == "HGETALL" && len(args) == 2:
		h := s.hashes[args[1]]
		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", 2*len(h))
		for k, v := range h {
			b.WriteString(bulk(k))
			b.WriteString(bulk(v))
		}
		return b.String(), delay
	case name == "LRANGE" && len(args) == 4:
		list := s.lists[args[1]]
		start, _ := strconv.Atoi(args[2])
		stop, _ := strconv.Atoi(args[3])
		if stop < 0 {
			stop = len(list) + stop
		}
		if stop >= len(list) {
			stop = len(list) - 1
		}
		var b strings.Builder
		if start > stop {
			return "*0\r\n", delay
		}
		fmt.Fprintf(&b, "*%d\r\n", stop-start+1)
		for _, v := range list[start : stop+1] {
			b.WriteString(bulk(v))
		}
		return b.String(), delay
	default:
		return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0]), delay
	}
}

func bulk(v string) string {
	return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = strings.TrimRight(header, "\r\n")
	if !strings.HasPrefix(header, "*") {
		return nil, fmt.Errorf("expected array, got %q", header)
	}
	n, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, n)
	for i := range args {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(line, "\r\n")[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args[i] = string(buf[:size])
	}
	return args, nil
}
