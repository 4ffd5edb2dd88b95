package fake_server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/redcon"
)

var (
	errWrongType  = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	errNotInteger = errors.New("ERR value is not an integer or out of range")
	errSyntax     = errors.New("ERR syntax error")
)

type Option func(*Server)

// WithPassword makes every command except AUTH and QUIT fail with NOAUTH
// until the connection authenticates. An empty user means the default user.
func WithPassword(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// Server is an in-process Redis stand-in built on redcon. It keeps a small
// keyspace (strings, hashes, lists with expiry) in memory and implements
// MULTI/EXEC with WATCH and RESP2 pub/sub, enough to drive the client end to
// end.
type Server struct {
	addr     string
	rcon     *redcon.Server
	done     chan struct{}
	closeMux sync.Once

	user     string
	password string

	commands map[string]*CommandMetadata

	storeMu sync.Mutex
	store   *store
	hub     *hub

	// detached holds sessions served by their own goroutine after SUBSCRIBE.
	detached *xsync.MapOf[*session, struct{}]

	recMu    sync.Mutex
	recorded [][]string
}

// session is the per-connection state. mu serializes writes once the
// connection is detached and publishers write to it concurrently.
type session struct {
	mu    sync.Mutex
	dconn redcon.DetachedConn

	db     int
	authed bool
	name   string

	inMulti  bool
	txFailed bool
	queue    [][][]byte
	watched  map[watchKey]uint64

	channels map[string]struct{}
	patterns map[string]struct{}
}

func (sess *session) subscriptions() int {
	return len(sess.channels) + len(sess.patterns)
}

func (sess *session) resetTx() {
	sess.inMulti = false
	sess.txFailed = false
	sess.queue = nil
	sess.watched = nil
}

// NewServer listens on a free loopback port and serves until Close.
func NewServer(opts ...Option) (*Server, error) {
	addr, err := freeAddr()
	if err != nil {
		return nil, err
	}
	s := &Server{
		addr:     addr,
		done:     make(chan struct{}),
		store:    newStore(),
		hub:      newHub(),
		detached: xsync.NewMapOf[*session, struct{}](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.commands = newCommandRegistry()
	s.rcon = redcon.NewServer(addr, s.onHandler, s.onAccept, s.onClosed)

	signal := make(chan error, 1)
	go func() {
		if err := s.rcon.ListenServeAndSignal(signal); err != nil {
			logger.V(1).Info("Fake server stopped", "Addr", addr, "Reason", err.Error())
		}
	}()
	if err := <-signal; err != nil {
		return nil, err
	}
	logger.Info("Fake server listening", "Addr", addr)
	return s, nil
}

func freeAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.addr)
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns every command received so far, in arrival order.
func (s *Server) Commands() [][]string {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	out := make([][]string, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// Publish delivers message as if a client had sent PUBLISH.
func (s *Server) Publish(channel, message string) int {
	return s.hub.publish(channel, message)
}

func (s *Server) Close() error {
	var err error
	s.closeMux.Do(func() {
		close(s.done)
		err = s.rcon.Close()
		s.detached.Range(func(sess *session, _ struct{}) bool {
			_ = sess.dconn.Close()
			return true
		})
	})
	return err
}

func (s *Server) onAccept(conn redcon.Conn) bool {
	conn.SetContext(&session{authed: s.password == ""})
	return true
}

func (s *Server) onClosed(conn redcon.Conn, _ error) {
	if sess, ok := conn.Context().(*session); ok {
		s.hub.unsubscribeAll(sess)
	}
}

func (s *Server) onHandler(conn redcon.Conn, cmd redcon.Command) {
	sess, ok := conn.Context().(*session)
	if !ok {
		conn.WriteError("ERR invalid connection context")
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	wasDetached := sess.dconn != nil
	s.dispatch(sess, conn, cmd.Args)
	if !wasDetached && sess.dconn != nil {
		if err := sess.dconn.Flush(); err != nil {
			_ = sess.dconn.Close()
			return
		}
		s.detached.Store(sess, struct{}{})
		go s.serveDetached(sess)
	}
}

// serveDetached reads commands for a session that left redcon's loop.
func (s *Server) serveDetached(sess *session) {
	defer func() {
		s.hub.unsubscribeAll(sess)
		s.detached.Delete(sess)
		_ = sess.dconn.Close()
	}()
	for {
		cmd, err := sess.dconn.ReadCommand()
		if err != nil {
			return
		}
		sess.mu.Lock()
		quit := s.dispatch(sess, sess.dconn, cmd.Args)
		err = sess.dconn.Flush()
		sess.mu.Unlock()
		if err != nil || quit {
			return
		}
	}
}

// call is one command being executed.
type call struct {
	srv    *Server
	sess   *session
	conn   redcon.Conn
	args   [][]byte
	inExec bool
	quit   bool
}

func (c *call) arg(i int) string {
	return string(c.args[i])
}

func (c *call) writeErr(err error) {
	c.conn.WriteError(err.Error())
}

func (c *call) writeNullArray() {
	c.conn.WriteRaw([]byte("*-1\r\n"))
}

// dispatch runs or queues one command and reports whether the connection
// should close afterwards.
func (s *Server) dispatch(sess *session, conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		return false
	}
	s.record(args)
	name := strings.ToUpper(string(args[0]))
	meta, ok := s.commands[name]
	if !ok {
		sess.txFailed = sess.inMulti
		conn.WriteError(fmt.Sprintf("ERR unknown command '%s', with args beginning with: ", args[0]))
		return false
	}
	if !meta.arityOK(len(args)) {
		sess.txFailed = sess.inMulti
		conn.WriteError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(name)))
		return false
	}
	if !sess.authed && name != "AUTH" && name != "QUIT" {
		conn.WriteError("NOAUTH Authentication required.")
		return false
	}
	if sess.subscriptions() > 0 && !meta.PubSub {
		conn.WriteError(fmt.Sprintf("ERR Can't execute '%s': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context", strings.ToLower(name)))
		return false
	}
	if sess.inMulti && !meta.TxControl {
		if meta.NoMulti {
			sess.txFailed = true
			conn.WriteError("ERR Command not allowed inside a transaction")
			return false
		}
		sess.queue = append(sess.queue, cloneArgs(args))
		conn.WriteString("QUEUED")
		return false
	}

	c := &call{srv: s, sess: sess, conn: conn, args: args}
	if !meta.Unlocked {
		s.storeMu.Lock()
		defer s.storeMu.Unlock()
	}
	meta.Handler(c)
	return c.quit
}

func (s *Server) record(args [][]byte) {
	cmd := make([]string, len(args))
	for i, a := range args {
		cmd[i] = string(a)
	}
	s.recMu.Lock()
	s.recorded = append(s.recorded, cmd)
	s.recMu.Unlock()
}

// cloneArgs copies args out of redcon's read buffer, which is reused.
func cloneArgs(args [][]byte) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = append([]byte(nil), a...)
	}
	return out
}

// hub routes published messages to subscribed sessions.
type hub struct {
	mu       sync.Mutex
	channels map[string]map[*session]struct{}
	patterns map[string]map[*session]struct{}
}

func newHub() *hub {
	return &hub{
		channels: make(map[string]map[*session]struct{}),
		patterns: make(map[string]map[*session]struct{}),
	}
}

// subscribe adds topic for sess and returns the new subscription count.
func (h *hub) subscribe(sess *session, topic string, pattern bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	index, own := h.channels, &sess.channels
	if pattern {
		index, own = h.patterns, &sess.patterns
	}
	if *own == nil {
		*own = make(map[string]struct{})
	}
	(*own)[topic] = struct{}{}
	if index[topic] == nil {
		index[topic] = make(map[*session]struct{})
	}
	index[topic][sess] = struct{}{}
	return sess.subscriptions()
}

func (h *hub) unsubscribe(sess *session, topic string, pattern bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sess, topic, pattern)
	return sess.subscriptions()
}

func (h *hub) removeLocked(sess *session, topic string, pattern bool) {
	index, own := h.channels, sess.channels
	if pattern {
		index, own = h.patterns, sess.patterns
	}
	delete(own, topic)
	if subs, ok := index[topic]; ok {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(index, topic)
		}
	}
}

// topics lists what sess is subscribed to, channels or patterns.
func (h *hub) topics(sess *session, pattern bool) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	own := sess.channels
	if pattern {
		own = sess.patterns
	}
	out := make([]string, 0, len(own))
	for topic := range own {
		out = append(out, topic)
	}
	return out
}

func (h *hub) unsubscribeAll(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range sess.channels {
		h.removeLocked(sess, ch, false)
	}
	for pat := range sess.patterns {
		h.removeLocked(sess, pat, true)
	}
}

type delivery struct {
	sess    *session
	pattern string
}

// publish writes message to every matching subscriber and returns how many
// received it.
func (h *hub) publish(channel, message string) int {
	h.mu.Lock()
	var targets []delivery
	for sess := range h.channels[channel] {
		targets = append(targets, delivery{sess: sess})
	}
	for pattern, subs := range h.patterns {
		if !matchPattern(channel, pattern) {
			continue
		}
		for sess := range subs {
			targets = append(targets, delivery{sess: sess, pattern: pattern})
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		t.sess.mu.Lock()
		if t.sess.dconn != nil {
			if t.pattern == "" {
				t.sess.dconn.WriteArray(3)
				t.sess.dconn.WriteBulkString("message")
			} else {
				t.sess.dconn.WriteArray(4)
				t.sess.dconn.WriteBulkString("pmessage")
				t.sess.dconn.WriteBulkString(t.pattern)
			}
			t.sess.dconn.WriteBulkString(channel)
			t.sess.dconn.WriteBulkString(message)
			_ = t.sess.dconn.Flush()
		}
		t.sess.mu.Unlock()
	}
	return len(targets)
}
