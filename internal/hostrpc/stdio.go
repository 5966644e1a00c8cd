package hostrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Server serves one host over Content-Length framed JSON-RPC, typically on
// the process's stdin and stdout.
type Server struct {
	in      *bufio.Reader
	out     *bufio.Writer
	sendMu  sync.Mutex
	log     *slog.Logger
	session *Session
}

// NewServer constructs a server reading requests from in and writing
// responses and notifications to out.
func NewServer(in io.Reader, out io.Writer, opts SessionOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		in:  bufio.NewReader(in),
		out: bufio.NewWriter(out),
		log: opts.Logger,
	}
	s.session = NewSession(s.send, opts)
	return s
}

// Run serves requests until exit, end of input or ctx cancellation. A
// graceful exit returns ErrExit.
func (s *Server) Run(ctx context.Context) error {
	defer s.session.Close()
	stop := context.AfterFunc(ctx, s.session.Close)
	defer stop()

	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn("failed to parse message", "err", err)
			if err := s.session.sendError(json.RawMessage("null"), &Error{Code: CodeParseError, Message: "parse error"}); err != nil {
				return err
			}
			continue
		}
		if err := s.session.Handle(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}
