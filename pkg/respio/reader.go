package respio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/pzhenzhou/elika-client/pkg/common"
)

const (
	DefaultBufferSize = 8 * common.KB // 8KB
	MaxBulkSize       = 512 * common.MB
	MaxArraySize      = 1024 * 1024
)

var (
	ErrInvalidSyntax = errors.New("invalid RESP syntax")
	ErrTooLarge      = errors.New("value too large")
	ErrBadCRLFEnd    = errors.New("bad CRLF end")
)

// Reader decodes replies from a buffered byte stream.
type Reader struct {
	reader *bufio.Reader
}

func NewReader(rd io.Reader) *Reader {
	return &Reader{
		reader: bufio.NewReaderSize(rd, DefaultBufferSize),
	}
}

func NewReaderFromBytes(data []byte) *Reader {
	return &Reader{
		reader: bufio.NewReader(bytes.NewReader(data)),
	}
}

// Read decodes exactly one reply. An I/O failure before the first byte is
// returned as is; anything that goes wrong once a reply has started is a
// protocol fault, since the stream position can no longer be trusted.
func (r *Reader) Read() (*Reply, error) {
	marker, err := r.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	reply, err := r.readReply(marker)
	if err != nil {
		return nil, decodeFault(err)
	}
	return reply, nil
}

func (r *Reader) readReply(marker byte) (*Reply, error) {
	switch marker {
	case RespStatus:
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		return &Reply{Kind: KindStatus, Str: bytes.Clone(line)}, nil

	case RespError:
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		return &Reply{Kind: KindError, Str: bytes.Clone(line)}, nil

	case RespInt:
		n, err := r.readInt()
		if err != nil {
			return nil, err
		}
		return &Reply{Kind: KindInteger, Int: n}, nil

	case RespString:
		data, err := r.readBulk()
		if err != nil {
			return nil, err
		}
		if data == nil {
			return NullBulkReply(), nil
		}
		return &Reply{Kind: KindBulk, Str: data}, nil

	case RespArray:
		return r.readArray()

	default:
		logger.Info("Reader invalid RESP marker", "marker", string(marker))
		return nil, fmt.Errorf("%w: unknown marker %q", ErrInvalidSyntax, marker)
	}
}

func (r *Reader) readArray() (*Reply, error) {
	length, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if length == -1 {
		return NullArrayReply(), nil
	}
	if length < -1 {
		return nil, fmt.Errorf("%w: negative array length %d", ErrInvalidSyntax, length)
	}
	if length > MaxArraySize {
		return nil, ErrTooLarge
	}
	items := make([]*Reply, length)
	for i := range items {
		marker, err := r.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if items[i], err = r.readReply(marker); err != nil {
			return nil, err
		}
	}
	return &Reply{Kind: KindArray, Array: items}, nil
}

// readBulk returns nil for the null bulk string and a non-nil slice otherwise.
func (r *Reader) readBulk() ([]byte, error) {
	length, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if length == -1 {
		return nil, nil
	}
	if length < -1 {
		return nil, fmt.Errorf("%w: negative bulk length %d", ErrInvalidSyntax, length)
	}
	if length > MaxBulkSize {
		return nil, ErrTooLarge
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return nil, err
	}
	if err := r.skipCRLF(); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadErrorLineIfPossible reads one error line if the next reply is an error
// and returns its message. Every failure yields "".
func (r *Reader) ReadErrorLineIfPossible() string {
	marker, err := r.reader.ReadByte()
	if err != nil || marker != RespError {
		return ""
	}
	line, err := r.readLine()
	if err != nil {
		return ""
	}
	return string(line)
}

func (r *Reader) Buffered() int {
	return r.reader.Buffered()
}

func (r *Reader) Reset(rd io.Reader) {
	r.reader.Reset(rd)
}

// readInt reads a signed base-10 integer line.
func (r *Reader) readInt() (int64, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	return encodeToInt64(line)
}

// Helper function for parsing integers
func encodeToInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrInvalidSyntax
	}
	if len(b) < 10 { // Fast path for small numbers
		var neg, i = false, 0
		switch b[0] {
		case '-':
			neg = true
			fallthrough
		case '+':
			i++
		}
		if len(b) != i {
			var n int64
			for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
				n = int64(b[i]-'0') + n*10
			}
			if len(b) == i {
				if neg {
					n = -n
				}
				return n, nil
			}
		}
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidSyntax, b)
	}
	return n, nil
}

// readLine returns the line without its CRLF. The slice may alias the read
// buffer and is only valid until the next read.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		long := bytes.Clone(line)
		for errors.Is(err, bufio.ErrBufferFull) {
			line, err = r.reader.ReadSlice('\n')
			long = append(long, line...)
		}
		line = long
	}
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, ErrBadCRLFEnd
	}
	return line[:len(line)-2], nil
}

// skipCRLF reads and validates CRLF
func (r *Reader) skipCRLF() error {
	b, err := r.reader.ReadByte()
	if err != nil {
		return err
	}
	if b != '\r' {
		return ErrBadCRLFEnd
	}

	b, err = r.reader.ReadByte()
	if err != nil {
		return err
	}
	if b != '\n' {
		return ErrBadCRLFEnd
	}
	return nil
}

func decodeFault(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	switch {
	case errors.Is(err, ErrInvalidSyntax), errors.Is(err, ErrTooLarge),
		errors.Is(err, ErrBadCRLFEnd), errors.Is(err, io.ErrUnexpectedEOF):
		return common.ProtocolFault.Wrap(err, "malformed reply")
	default:
		return err
	}
}
