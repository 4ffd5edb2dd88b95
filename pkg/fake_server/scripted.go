package fake_server

import (
	"errors"
	"net"
	"sync"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/samber/lo"
)

var (
	logger = common.InitLogger().WithName("fake-server")
	// Hangup makes a ScriptedServer close the connection instead of replying.
	Hangup = &respio.Reply{}
)

// Handler maps one command to the replies sent back, in order. It may return
// no reply, several replies (e.g. an ack followed by a pushed message) or
// Hangup.
type Handler func(args [][]byte) []*respio.Reply

// ScriptedServer is a loopback server that answers every command with the
// replies its Handler scripts, byte for byte through respio.Writer. Tests use
// it where exact reply shapes matter, such as EXEC size mismatches.
type ScriptedServer struct {
	ln       net.Listener
	handler  Handler
	mu       sync.Mutex
	commands [][]string
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewScriptedServer(handler Handler) (*ScriptedServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &ScriptedServer{
		ln:      ln,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *ScriptedServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *ScriptedServer) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *ScriptedServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Commands returns every command received so far, verb first.
func (s *ScriptedServer) Commands() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.commands...)
}

func (s *ScriptedServer) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *ScriptedServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Error(err, "ScriptedServer accept failed")
			}
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *ScriptedServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	reader := respio.NewReader(conn)
	writer := respio.NewWriter(conn)
	for {
		req, err := reader.Read()
		if err != nil {
			return
		}
		if req.Kind != respio.KindArray || len(req.Array) == 0 {
			_ = writer.WriteError("ERR protocol error: expected a command array")
			_ = writer.Flush()
			continue
		}
		args := lo.Map(req.Array, func(item *respio.Reply, _ int) []byte {
			return item.Str
		})
		s.mu.Lock()
		s.commands = append(s.commands, respio.DecodeMany(args))
		s.mu.Unlock()

		for _, reply := range s.handler(args) {
			if reply == Hangup {
				_ = writer.Flush()
				return
			}
			if err := writer.WriteReply(reply); err != nil {
				return
			}
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}
