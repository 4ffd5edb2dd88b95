package respio

var (
	PingCmd    = []byte("PING")
	AuthCmd    = []byte("AUTH")
	SelectCmd  = []byte("SELECT")
	ClientCmd  = []byte("CLIENT")
	QuitCmd    = []byte("QUIT")
	MultiCmd   = []byte("MULTI")
	WatchCmd   = []byte("WATCH")
	UnwatchCmd = []byte("UNWATCH")
	ExecCmd    = []byte("EXEC")
	DiscardCmd = []byte("DISCARD")

	OkReply     = []byte("OK")
	PongReply   = []byte("PONG")
	QueuedReply = []byte("QUEUED")
)

const (
	CRLF     = "\r\n"
	Nil      = "$-1\r\n"
	NilArray = "*-1\r\n"
)

const (
	RespStatus = byte('+') // +<string>\r\n
	RespError  = byte('-') // -<string>\r\n
	RespString = byte('$') // $<length>\r\n<bytes>\r\n
	RespInt    = byte(':') // :<number>\r\n
	RespArray  = byte('*') // *<len>\r\n...
)
