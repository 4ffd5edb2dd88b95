package fake_server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/match"
)

type CommandHandler func(c *call)

// CommandMetadata describes one supported command. MaxArgs of -1 means no
// upper bound; both bounds count the command name.
type CommandMetadata struct {
	Name    string
	MinArgs int
	MaxArgs int
	Handler CommandHandler
	// Unlocked handlers do not touch the keyspace or lock it themselves.
	Unlocked bool
	// TxControl commands run immediately inside MULTI instead of queueing.
	TxControl bool
	// NoMulti commands are rejected inside MULTI.
	NoMulti bool
	// PubSub commands are allowed while the connection is subscribed.
	PubSub bool
}

func (m *CommandMetadata) arityOK(n int) bool {
	return n >= m.MinArgs && (m.MaxArgs < 0 || n <= m.MaxArgs)
}

func newCommandRegistry() map[string]*CommandMetadata {
	commands := []*CommandMetadata{
		{Name: "PING", MinArgs: 1, MaxArgs: 2, Handler: handlePing, Unlocked: true, PubSub: true},
		{Name: "ECHO", MinArgs: 2, MaxArgs: 2, Handler: handleEcho, Unlocked: true},
		{Name: "QUIT", MinArgs: 1, MaxArgs: 1, Handler: handleQuit, Unlocked: true, TxControl: true, PubSub: true},
		{Name: "AUTH", MinArgs: 2, MaxArgs: 3, Handler: handleAuth, Unlocked: true, NoMulti: true},
		{Name: "SELECT", MinArgs: 2, MaxArgs: 2, Handler: handleSelect, Unlocked: true},
		{Name: "CLIENT", MinArgs: 2, MaxArgs: 3, Handler: handleClient, Unlocked: true},
		{Name: "DEBUG", MinArgs: 3, MaxArgs: 3, Handler: handleDebug, Unlocked: true, NoMulti: true},
		{Name: "INFO", MinArgs: 1, MaxArgs: 2, Handler: handleInfo, Unlocked: true},
		{Name: "DBSIZE", MinArgs: 1, MaxArgs: 1, Handler: handleDBSize},
		{Name: "FLUSHDB", MinArgs: 1, MaxArgs: 2, Handler: handleFlushDB},
		{Name: "FLUSHALL", MinArgs: 1, MaxArgs: 2, Handler: handleFlushAll},

		{Name: "SET", MinArgs: 3, MaxArgs: -1, Handler: handleSet},
		{Name: "GET", MinArgs: 2, MaxArgs: 2, Handler: handleGet},
		{Name: "GETSET", MinArgs: 3, MaxArgs: 3, Handler: handleGetSet},
		{Name: "MSET", MinArgs: 3, MaxArgs: -1, Handler: handleMSet},
		{Name: "MGET", MinArgs: 2, MaxArgs: -1, Handler: handleMGet},
		{Name: "INCR", MinArgs: 2, MaxArgs: 2, Handler: handleIncrBy},
		{Name: "DECR", MinArgs: 2, MaxArgs: 2, Handler: handleIncrBy},
		{Name: "INCRBY", MinArgs: 3, MaxArgs: 3, Handler: handleIncrBy},
		{Name: "DECRBY", MinArgs: 3, MaxArgs: 3, Handler: handleIncrBy},
		{Name: "APPEND", MinArgs: 3, MaxArgs: 3, Handler: handleAppend},
		{Name: "STRLEN", MinArgs: 2, MaxArgs: 2, Handler: handleStrlen},

		{Name: "DEL", MinArgs: 2, MaxArgs: -1, Handler: handleDel},
		{Name: "EXISTS", MinArgs: 2, MaxArgs: -1, Handler: handleExists},
		{Name: "EXPIRE", MinArgs: 3, MaxArgs: 3, Handler: handleExpire},
		{Name: "PEXPIRE", MinArgs: 3, MaxArgs: 3, Handler: handleExpire},
		{Name: "TTL", MinArgs: 2, MaxArgs: 2, Handler: handleTTL},
		{Name: "PTTL", MinArgs: 2, MaxArgs: 2, Handler: handleTTL},
		{Name: "PERSIST", MinArgs: 2, MaxArgs: 2, Handler: handlePersist},
		{Name: "TYPE", MinArgs: 2, MaxArgs: 2, Handler: handleType},
		{Name: "KEYS", MinArgs: 2, MaxArgs: 2, Handler: handleKeys},

		{Name: "HSET", MinArgs: 4, MaxArgs: -1, Handler: handleHSet},
		{Name: "HGET", MinArgs: 3, MaxArgs: 3, Handler: handleHGet},
		{Name: "HMGET", MinArgs: 3, MaxArgs: -1, Handler: handleHMGet},
		{Name: "HGETALL", MinArgs: 2, MaxArgs: 2, Handler: handleHGetAll},
		{Name: "HDEL", MinArgs: 3, MaxArgs: -1, Handler: handleHDel},
		{Name: "HEXISTS", MinArgs: 3, MaxArgs: 3, Handler: handleHExists},
		{Name: "HLEN", MinArgs: 2, MaxArgs: 2, Handler: handleHLen},
		{Name: "HINCRBY", MinArgs: 4, MaxArgs: 4, Handler: handleHIncrBy},
		{Name: "HKEYS", MinArgs: 2, MaxArgs: 2, Handler: handleHKeys},
		{Name: "HVALS", MinArgs: 2, MaxArgs: 2, Handler: handleHVals},

		{Name: "LPUSH", MinArgs: 3, MaxArgs: -1, Handler: handlePush},
		{Name: "RPUSH", MinArgs: 3, MaxArgs: -1, Handler: handlePush},
		{Name: "LPOP", MinArgs: 2, MaxArgs: 3, Handler: handlePop},
		{Name: "RPOP", MinArgs: 2, MaxArgs: 3, Handler: handlePop},
		{Name: "LLEN", MinArgs: 2, MaxArgs: 2, Handler: handleLLen},
		{Name: "LRANGE", MinArgs: 4, MaxArgs: 4, Handler: handleLRange},
		{Name: "LINDEX", MinArgs: 3, MaxArgs: 3, Handler: handleLIndex},
		{Name: "BLPOP", MinArgs: 3, MaxArgs: -1, Handler: handleBlockingPop, Unlocked: true},
		{Name: "BRPOP", MinArgs: 3, MaxArgs: -1, Handler: handleBlockingPop, Unlocked: true},

		{Name: "MULTI", MinArgs: 1, MaxArgs: 1, Handler: handleMulti, Unlocked: true, TxControl: true},
		{Name: "EXEC", MinArgs: 1, MaxArgs: 1, Handler: handleExec, Unlocked: true, TxControl: true},
		{Name: "DISCARD", MinArgs: 1, MaxArgs: 1, Handler: handleDiscard, Unlocked: true, TxControl: true},
		{Name: "WATCH", MinArgs: 2, MaxArgs: -1, Handler: handleWatch, TxControl: true},
		{Name: "UNWATCH", MinArgs: 1, MaxArgs: 1, Handler: handleUnwatch, Unlocked: true},

		{Name: "PUBLISH", MinArgs: 3, MaxArgs: 3, Handler: handlePublish, Unlocked: true},
		{Name: "SUBSCRIBE", MinArgs: 2, MaxArgs: -1, Handler: handleSubscribe, Unlocked: true, NoMulti: true, PubSub: true},
		{Name: "PSUBSCRIBE", MinArgs: 2, MaxArgs: -1, Handler: handleSubscribe, Unlocked: true, NoMulti: true, PubSub: true},
		{Name: "UNSUBSCRIBE", MinArgs: 1, MaxArgs: -1, Handler: handleUnsubscribe, Unlocked: true, NoMulti: true, PubSub: true},
		{Name: "PUNSUBSCRIBE", MinArgs: 1, MaxArgs: -1, Handler: handleUnsubscribe, Unlocked: true, NoMulti: true, PubSub: true},
	}
	registry := make(map[string]*CommandMetadata, len(commands))
	for _, cmd := range commands {
		registry[cmd.Name] = cmd
	}
	return registry
}

func matchPattern(channel, pattern string) bool {
	return match.Match(channel, pattern)
}

func (c *call) name() string {
	return strings.ToUpper(string(c.args[0]))
}

func handlePing(c *call) {
	if c.sess.subscriptions() > 0 {
		c.conn.WriteArray(2)
		c.conn.WriteBulkString("pong")
		if len(c.args) == 2 {
			c.conn.WriteBulk(c.args[1])
		} else {
			c.conn.WriteBulkString("")
		}
		return
	}
	if len(c.args) == 2 {
		c.conn.WriteBulk(c.args[1])
		return
	}
	c.conn.WriteString("PONG")
}

func handleEcho(c *call) {
	c.conn.WriteBulk(c.args[1])
}

func handleQuit(c *call) {
	c.conn.WriteString("OK")
	c.quit = true
	if c.sess.dconn == nil {
		_ = c.conn.Close()
	}
}

func handleAuth(c *call) {
	srv := c.srv
	if srv.password == "" {
		c.conn.WriteError("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
		return
	}
	user, pass := "", c.arg(1)
	if len(c.args) == 3 {
		user, pass = c.arg(1), c.arg(2)
	}
	if pass != srv.password || (user != "" && user != srv.user && !(user == "default" && srv.user == "")) {
		c.conn.WriteError("WRONGPASS invalid username-password pair or user is disabled.")
		return
	}
	c.sess.authed = true
	c.conn.WriteString("OK")
}

func handleSelect(c *call) {
	n, err := strconv.Atoi(c.arg(1))
	if err != nil || n < 0 || n >= numDatabases {
		c.conn.WriteError("ERR DB index is out of range")
		return
	}
	c.sess.db = n
	c.conn.WriteString("OK")
}

func handleClient(c *call) {
	switch strings.ToUpper(c.arg(1)) {
	case "SETNAME":
		if len(c.args) != 3 || strings.ContainsAny(c.arg(2), " \n") {
			c.writeErr(errSyntax)
			return
		}
		c.sess.name = c.arg(2)
		c.conn.WriteString("OK")
	case "GETNAME":
		if c.sess.name == "" {
			c.conn.WriteNull()
			return
		}
		c.conn.WriteBulkString(c.sess.name)
	default:
		c.conn.WriteError("ERR unknown subcommand '" + c.arg(1) + "'")
	}
}

// handleDebug supports DEBUG SLEEP for timeout tests.
func handleDebug(c *call) {
	if !strings.EqualFold(c.arg(1), "SLEEP") {
		c.conn.WriteError("ERR unknown subcommand '" + c.arg(1) + "'")
		return
	}
	secs, err := strconv.ParseFloat(c.arg(2), 64)
	if err != nil {
		c.writeErr(errNotInteger)
		return
	}
	select {
	case <-time.After(time.Duration(secs * float64(time.Second))):
	case <-c.srv.done:
	}
	c.conn.WriteString("OK")
}

func handleInfo(c *call) {
	c.conn.WriteBulkString("# Server\r\nredis_version:7.2.0\r\nredis_mode:standalone\r\n")
}

func handleDBSize(c *call) {
	c.conn.WriteInt(c.srv.store.size(c.sess.db))
}

func handleFlushDB(c *call) {
	c.srv.store.flush(c.sess.db)
	c.conn.WriteString("OK")
}

func handleFlushAll(c *call) {
	for db := 0; db < numDatabases; db++ {
		c.srv.store.flush(db)
	}
	c.conn.WriteString("OK")
}

type setOptions struct {
	nx, xx, get, keepTTL bool
	expireAt             time.Time
}

func parseSetOptions(args [][]byte) (setOptions, error) {
	var opts setOptions
	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			opts.nx = true
		case "XX":
			opts.xx = true
		case "GET":
			opts.get = true
		case "KEEPTTL":
			opts.keepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) || !opts.expireAt.IsZero() {
				return opts, errSyntax
			}
			n, err := parseInt(args[i+1])
			if err != nil {
				return opts, err
			}
			if n <= 0 {
				return opts, errors.New("ERR invalid expire time in 'set' command")
			}
			switch strings.ToUpper(string(args[i])) {
			case "EX":
				opts.expireAt = time.Now().Add(time.Duration(n) * time.Second)
			case "PX":
				opts.expireAt = time.Now().Add(time.Duration(n) * time.Millisecond)
			case "EXAT":
				opts.expireAt = time.Unix(n, 0)
			case "PXAT":
				opts.expireAt = time.UnixMilli(n)
			}
			i++
		default:
			return opts, errSyntax
		}
	}
	if (opts.nx && opts.xx) || (opts.keepTTL && !opts.expireAt.IsZero()) {
		return opts, errSyntax
	}
	return opts, nil
}

func handleSet(c *call) {
	opts, err := parseSetOptions(c.args[3:])
	if err != nil {
		c.writeErr(err)
		return
	}
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	old := st.lookup(db, key)
	if opts.get && old != nil && old.kind != kindString {
		c.writeErr(errWrongType)
		return
	}
	if (opts.nx && old != nil) || (opts.xx && old == nil) {
		if opts.get && old != nil {
			c.conn.WriteBulk(old.str)
		} else {
			c.conn.WriteNull()
		}
		return
	}
	expireAt := opts.expireAt
	if opts.keepTTL && old != nil {
		expireAt = old.expireAt
	}
	st.setString(db, key, append([]byte(nil), c.args[2]...), expireAt)
	switch {
	case !opts.get:
		c.conn.WriteString("OK")
	case old == nil:
		c.conn.WriteNull()
	default:
		c.conn.WriteBulk(old.str)
	}
}

func handleGet(c *call) {
	e, err := c.srv.store.typed(c.sess.db, c.arg(1), kindString)
	switch {
	case err != nil:
		c.writeErr(err)
	case e == nil:
		c.conn.WriteNull()
	default:
		c.conn.WriteBulk(e.str)
	}
}

func handleGetSet(c *call) {
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	old, err := st.typed(db, key, kindString)
	if err != nil {
		c.writeErr(err)
		return
	}
	st.setString(db, key, append([]byte(nil), c.args[2]...), time.Time{})
	if old == nil {
		c.conn.WriteNull()
		return
	}
	c.conn.WriteBulk(old.str)
}

func handleMSet(c *call) {
	if len(c.args)%2 != 1 {
		c.conn.WriteError("ERR wrong number of arguments for 'mset' command")
		return
	}
	for i := 1; i < len(c.args); i += 2 {
		c.srv.store.setString(c.sess.db, c.arg(i), append([]byte(nil), c.args[i+1]...), time.Time{})
	}
	c.conn.WriteString("OK")
}

func handleMGet(c *call) {
	c.conn.WriteArray(len(c.args) - 1)
	for _, key := range c.args[1:] {
		e := c.srv.store.lookup(c.sess.db, string(key))
		if e == nil || e.kind != kindString {
			c.conn.WriteNull()
			continue
		}
		c.conn.WriteBulk(e.str)
	}
}

func handleIncrBy(c *call) {
	delta := int64(1)
	if len(c.args) == 3 {
		n, err := parseInt(c.args[2])
		if err != nil {
			c.writeErr(err)
			return
		}
		delta = n
	}
	if strings.HasPrefix(c.name(), "DECR") {
		delta = -delta
	}
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	e, err := st.typed(db, key, kindString)
	if err != nil {
		c.writeErr(err)
		return
	}
	var cur int64
	var expireAt time.Time
	if e != nil {
		if cur, err = parseInt(e.str); err != nil {
			c.writeErr(err)
			return
		}
		expireAt = e.expireAt
	}
	cur += delta
	st.setString(db, key, []byte(strconv.FormatInt(cur, 10)), expireAt)
	c.conn.WriteInt64(cur)
}

func handleAppend(c *call) {
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	e, err := st.create(db, key, kindString)
	if err != nil {
		c.writeErr(err)
		return
	}
	e.str = append(e.str, c.args[2]...)
	st.touch(db, key)
	c.conn.WriteInt(len(e.str))
}

func handleStrlen(c *call) {
	e, err := c.srv.store.typed(c.sess.db, c.arg(1), kindString)
	switch {
	case err != nil:
		c.writeErr(err)
	case e == nil:
		c.conn.WriteInt(0)
	default:
		c.conn.WriteInt(len(e.str))
	}
}

func handleDel(c *call) {
	n := 0
	for _, key := range c.args[1:] {
		if c.srv.store.del(c.sess.db, string(key)) {
			n++
		}
	}
	c.conn.WriteInt(n)
}

func handleExists(c *call) {
	n := 0
	for _, key := range c.args[1:] {
		if c.srv.store.lookup(c.sess.db, string(key)) != nil {
			n++
		}
	}
	c.conn.WriteInt(n)
}

func handleExpire(c *call) {
	n, err := parseInt(c.args[2])
	if err != nil {
		c.writeErr(err)
		return
	}
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	e := st.lookup(db, key)
	if e == nil {
		c.conn.WriteInt(0)
		return
	}
	unit := time.Second
	if c.name() == "PEXPIRE" {
		unit = time.Millisecond
	}
	e.expireAt = time.Now().Add(time.Duration(n) * unit)
	st.touch(db, key)
	st.lookup(db, key)
	c.conn.WriteInt(1)
}

func handleTTL(c *call) {
	e := c.srv.store.lookup(c.sess.db, c.arg(1))
	switch {
	case e == nil:
		c.conn.WriteInt(-2)
	case e.expireAt.IsZero():
		c.conn.WriteInt(-1)
	default:
		left := time.Until(e.expireAt)
		if c.name() == "PTTL" {
			c.conn.WriteInt64(left.Milliseconds())
			return
		}
		c.conn.WriteInt64((left.Milliseconds() + 500) / 1000)
	}
}

func handlePersist(c *call) {
	e := c.srv.store.lookup(c.sess.db, c.arg(1))
	if e == nil || e.expireAt.IsZero() {
		c.conn.WriteInt(0)
		return
	}
	e.expireAt = time.Time{}
	c.srv.store.touch(c.sess.db, c.arg(1))
	c.conn.WriteInt(1)
}

func handleType(c *call) {
	e := c.srv.store.lookup(c.sess.db, c.arg(1))
	if e == nil {
		c.conn.WriteString("none")
		return
	}
	c.conn.WriteString(string(e.kind))
}

func handleKeys(c *call) {
	keys := c.srv.store.keys(c.sess.db, c.arg(1))
	c.conn.WriteArray(len(keys))
	for _, key := range keys {
		c.conn.WriteBulkString(key)
	}
}

func handleHSet(c *call) {
	if len(c.args)%2 != 0 {
		c.conn.WriteError("ERR wrong number of arguments for 'hset' command")
		return
	}
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	e, err := st.create(db, key, kindHash)
	if err != nil {
		c.writeErr(err)
		return
	}
	added := 0
	for i := 2; i < len(c.args); i += 2 {
		field := c.arg(i)
		if _, ok := e.hash[field]; !ok {
			added++
		}
		e.hash[field] = append([]byte(nil), c.args[i+1]...)
	}
	st.touch(db, key)
	c.conn.WriteInt(added)
}

func (c *call) hash() (*entry, bool) {
	e, err := c.srv.store.typed(c.sess.db, c.arg(1), kindHash)
	if err != nil {
		c.writeErr(err)
		return nil, false
	}
	return e, true
}

func handleHGet(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	if e == nil {
		c.conn.WriteNull()
		return
	}
	v, found := e.hash[c.arg(2)]
	if !found {
		c.conn.WriteNull()
		return
	}
	c.conn.WriteBulk(v)
}

func handleHMGet(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	c.conn.WriteArray(len(c.args) - 2)
	for _, field := range c.args[2:] {
		if e == nil {
			c.conn.WriteNull()
			continue
		}
		if v, found := e.hash[string(field)]; found {
			c.conn.WriteBulk(v)
		} else {
			c.conn.WriteNull()
		}
	}
}

func handleHGetAll(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	if e == nil {
		c.conn.WriteArray(0)
		return
	}
	c.conn.WriteArray(2 * len(e.hash))
	for field, v := range e.hash {
		c.conn.WriteBulkString(field)
		c.conn.WriteBulk(v)
	}
}

func handleHDel(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	removed := 0
	if e != nil {
		for _, field := range c.args[2:] {
			if _, found := e.hash[string(field)]; found {
				delete(e.hash, string(field))
				removed++
			}
		}
		c.srv.store.dropIfEmpty(c.sess.db, c.arg(1), e)
		if removed > 0 {
			c.srv.store.touch(c.sess.db, c.arg(1))
		}
	}
	c.conn.WriteInt(removed)
}

func handleHExists(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	if e == nil {
		c.conn.WriteInt(0)
		return
	}
	if _, found := e.hash[c.arg(2)]; found {
		c.conn.WriteInt(1)
		return
	}
	c.conn.WriteInt(0)
}

func handleHLen(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	if e == nil {
		c.conn.WriteInt(0)
		return
	}
	c.conn.WriteInt(len(e.hash))
}

func handleHIncrBy(c *call) {
	delta, err := parseInt(c.args[3])
	if err != nil {
		c.writeErr(err)
		return
	}
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	e, err := st.create(db, key, kindHash)
	if err != nil {
		c.writeErr(err)
		return
	}
	var cur int64
	if v, found := e.hash[c.arg(2)]; found {
		if cur, err = parseInt(v); err != nil {
			c.conn.WriteError("ERR hash value is not an integer")
			return
		}
	}
	cur += delta
	e.hash[c.arg(2)] = []byte(strconv.FormatInt(cur, 10))
	st.touch(db, key)
	c.conn.WriteInt64(cur)
}

func handleHKeys(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	if e == nil {
		c.conn.WriteArray(0)
		return
	}
	c.conn.WriteArray(len(e.hash))
	for field := range e.hash {
		c.conn.WriteBulkString(field)
	}
}

func handleHVals(c *call) {
	e, ok := c.hash()
	if !ok {
		return
	}
	if e == nil {
		c.conn.WriteArray(0)
		return
	}
	c.conn.WriteArray(len(e.hash))
	for _, v := range e.hash {
		c.conn.WriteBulk(v)
	}
}

func handlePush(c *call) {
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	e, err := st.create(db, key, kindList)
	if err != nil {
		c.writeErr(err)
		return
	}
	left := c.name() == "LPUSH"
	for _, v := range c.args[2:] {
		item := append([]byte(nil), v...)
		if left {
			e.list = append([][]byte{item}, e.list...)
		} else {
			e.list = append(e.list, item)
		}
	}
	st.touch(db, key)
	st.notifyPush()
	c.conn.WriteInt(len(e.list))
}

// popOne removes the head (or tail) of the list under key.
func (s *store) popOne(db int, key string, left bool) ([]byte, error) {
	e, err := s.typed(db, key, kindList)
	if err != nil || e == nil || len(e.list) == 0 {
		return nil, err
	}
	var v []byte
	if left {
		v, e.list = e.list[0], e.list[1:]
	} else {
		v, e.list = e.list[len(e.list)-1], e.list[:len(e.list)-1]
	}
	s.dropIfEmpty(db, key, e)
	s.touch(db, key)
	return v, nil
}

func handlePop(c *call) {
	left := c.name() == "LPOP"
	st, db, key := c.srv.store, c.sess.db, c.arg(1)
	if len(c.args) == 2 {
		v, err := st.popOne(db, key, left)
		switch {
		case err != nil:
			c.writeErr(err)
		case v == nil:
			c.conn.WriteNull()
		default:
			c.conn.WriteBulk(v)
		}
		return
	}
	count, err := parseInt(c.args[2])
	if err != nil || count < 0 {
		c.conn.WriteError("ERR value is out of range, must be positive")
		return
	}
	e, err := st.typed(db, key, kindList)
	if err != nil {
		c.writeErr(err)
		return
	}
	if e == nil {
		c.writeNullArray()
		return
	}
	n := min(int(count), len(e.list))
	c.conn.WriteArray(n)
	for i := 0; i < n; i++ {
		v, _ := st.popOne(db, key, left)
		c.conn.WriteBulk(v)
	}
}

func handleLLen(c *call) {
	e, err := c.srv.store.typed(c.sess.db, c.arg(1), kindList)
	switch {
	case err != nil:
		c.writeErr(err)
	case e == nil:
		c.conn.WriteInt(0)
	default:
		c.conn.WriteInt(len(e.list))
	}
}

func handleLRange(c *call) {
	start, err1 := parseInt(c.args[2])
	stop, err2 := parseInt(c.args[3])
	if err1 != nil || err2 != nil {
		c.writeErr(errNotInteger)
		return
	}
	e, err := c.srv.store.typed(c.sess.db, c.arg(1), kindList)
	if err != nil {
		c.writeErr(err)
		return
	}
	if e == nil {
		c.conn.WriteArray(0)
		return
	}
	from, to, ok := listRange(start, stop, len(e.list))
	if !ok {
		c.conn.WriteArray(0)
		return
	}
	c.conn.WriteArray(to - from)
	for _, v := range e.list[from:to] {
		c.conn.WriteBulk(v)
	}
}

func handleLIndex(c *call) {
	idx, err := parseInt(c.args[2])
	if err != nil {
		c.writeErr(err)
		return
	}
	e, err := c.srv.store.typed(c.sess.db, c.arg(1), kindList)
	if err != nil {
		c.writeErr(err)
		return
	}
	if e == nil {
		c.conn.WriteNull()
		return
	}
	from, _, ok := listRange(idx, idx, len(e.list))
	if !ok {
		c.conn.WriteNull()
		return
	}
	c.conn.WriteBulk(e.list[from])
}

// handleBlockingPop waits until one of the keys has an element or the
// timeout (seconds, 0 forever) passes. Inside EXEC it never blocks.
func handleBlockingPop(c *call) {
	secs, err := strconv.ParseFloat(c.arg(len(c.args)-1), 64)
	if err != nil || secs < 0 {
		c.conn.WriteError("ERR timeout is not a float or out of range")
		return
	}
	keys := c.args[1 : len(c.args)-1]
	left := c.name() == "BLPOP"
	var deadline <-chan time.Time
	if secs > 0 {
		timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer timer.Stop()
		deadline = timer.C
	}

	srv := c.srv
	for {
		if !c.inExec {
			srv.storeMu.Lock()
		}
		for _, key := range keys {
			v, err := srv.store.popOne(c.sess.db, string(key), left)
			if err != nil || v != nil {
				if !c.inExec {
					srv.storeMu.Unlock()
				}
				if err != nil {
					c.writeErr(err)
					return
				}
				c.conn.WriteArray(2)
				c.conn.WriteBulk(key)
				c.conn.WriteBulk(v)
				return
			}
		}
		pushed := srv.store.pushed
		if !c.inExec {
			srv.storeMu.Unlock()
		}
		if c.inExec {
			c.writeNullArray()
			return
		}
		select {
		case <-pushed:
		case <-deadline:
			c.writeNullArray()
			return
		case <-srv.done:
			c.writeNullArray()
			return
		}
	}
}

func handleMulti(c *call) {
	if c.sess.inMulti {
		c.conn.WriteError("ERR MULTI calls can not be nested")
		return
	}
	c.sess.inMulti = true
	c.conn.WriteString("OK")
}

func handleExec(c *call) {
	sess := c.sess
	if !sess.inMulti {
		c.conn.WriteError("ERR EXEC without MULTI")
		return
	}
	queue, failed, watched := sess.queue, sess.txFailed, sess.watched
	sess.resetTx()
	if failed {
		c.conn.WriteError("EXECABORT Transaction discarded because of previous errors.")
		return
	}

	srv := c.srv
	srv.storeMu.Lock()
	defer srv.storeMu.Unlock()
	if srv.store.changed(watched) {
		c.writeNullArray()
		return
	}
	c.conn.WriteArray(len(queue))
	for _, args := range queue {
		meta := srv.commands[strings.ToUpper(string(args[0]))]
		meta.Handler(&call{srv: srv, sess: sess, conn: c.conn, args: args, inExec: true})
	}
}

func handleDiscard(c *call) {
	if !c.sess.inMulti {
		c.conn.WriteError("ERR DISCARD without MULTI")
		return
	}
	c.sess.resetTx()
	c.conn.WriteString("OK")
}

func handleWatch(c *call) {
	if c.sess.inMulti {
		c.conn.WriteError("ERR WATCH inside MULTI is not allowed")
		return
	}
	if c.sess.watched == nil {
		c.sess.watched = make(map[watchKey]uint64)
	}
	for _, key := range c.args[1:] {
		c.sess.watched[watchKey{c.sess.db, string(key)}] = c.srv.store.version(c.sess.db, string(key))
	}
	c.conn.WriteString("OK")
}

func handleUnwatch(c *call) {
	c.sess.watched = nil
	c.conn.WriteString("OK")
}

func handlePublish(c *call) {
	c.conn.WriteInt(c.srv.hub.publish(c.arg(1), c.arg(2)))
}

// detach moves the session out of redcon's loop so publishers can push to
// it. The caller holds sess.mu.
func (c *call) detach() {
	if c.sess.dconn == nil {
		c.sess.dconn = c.conn.Detach()
		c.conn = c.sess.dconn
	}
}

func handleSubscribe(c *call) {
	c.detach()
	pattern := c.name() == "PSUBSCRIBE"
	kind := strings.ToLower(c.name())
	for _, topic := range c.args[1:] {
		n := c.srv.hub.subscribe(c.sess, string(topic), pattern)
		c.conn.WriteArray(3)
		c.conn.WriteBulkString(kind)
		c.conn.WriteBulk(topic)
		c.conn.WriteInt(n)
	}
}

func handleUnsubscribe(c *call) {
	pattern := c.name() == "PUNSUBSCRIBE"
	kind := strings.ToLower(c.name())
	topics := make([]string, 0, len(c.args)-1)
	for _, topic := range c.args[1:] {
		topics = append(topics, string(topic))
	}
	if len(topics) == 0 {
		topics = c.srv.hub.topics(c.sess, pattern)
	}
	if len(topics) == 0 {
		c.conn.WriteArray(3)
		c.conn.WriteBulkString(kind)
		c.conn.WriteNull()
		c.conn.WriteInt(c.sess.subscriptions())
		return
	}
	for _, topic := range topics {
		n := c.srv.hub.unsubscribe(c.sess, topic, pattern)
		c.conn.WriteArray(3)
		c.conn.WriteBulkString(kind)
		c.conn.WriteBulkString(topic)
		c.conn.WriteInt(n)
	}
}
