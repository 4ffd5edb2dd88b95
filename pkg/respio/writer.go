package respio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Writer encodes commands (client side) and replies (server side) into a
// buffered stream. Nothing reaches the underlying writer before Flush.
type Writer struct {
	writer *bufio.Writer
}

func NewWriter(wr io.Writer) *Writer {
	return &Writer{
		writer: bufio.NewWriterSize(wr, DefaultBufferSize),
	}
}

// WriteCommand encodes cmd and args as an array of bulk strings.
func (w *Writer) WriteCommand(cmd []byte, args ...[]byte) error {
	if err := w.writeHeader(RespArray, int64(len(args)+1)); err != nil {
		return err
	}
	if err := w.WriteBulkString(cmd); err != nil {
		return err
	}
	for _, arg := range args {
		if arg == nil {
			arg = []byte{}
		}
		if err := w.WriteBulkString(arg); err != nil {
			return err
		}
	}
	return nil
}

// AppendCommand appends the wire form of cmd and args to buf.
func AppendCommand(buf []byte, cmd []byte, args ...[]byte) []byte {
	buf = appendHead(buf, RespArray, int64(len(args)+1))
	buf = appendBulk(buf, cmd)
	for _, arg := range args {
		buf = appendBulk(buf, arg)
	}
	return buf
}

func appendHead(buf []byte, marker byte, n int64) []byte {
	buf = append(buf, marker)
	buf = strconv.AppendInt(buf, n, 10)
	return append(buf, CRLF...)
}

func appendBulk(buf []byte, b []byte) []byte {
	buf = appendHead(buf, RespString, int64(len(b)))
	buf = append(buf, b...)
	return append(buf, CRLF...)
}

// WriteReply encodes any reply shape.
func (w *Writer) WriteReply(r *Reply) error {
	switch r.Kind {
	case KindStatus:
		return w.WriteStatus(string(r.Str))

	case KindError:
		return w.WriteError(string(r.Str))

	case KindInteger:
		return w.WriteInt64(r.Int)

	case KindBulk:
		if r.Null {
			return w.WriteNullBulk()
		}
		if r.Str == nil {
			return w.WriteBulkString([]byte{})
		}
		return w.WriteBulkString(r.Str)

	case KindArray:
		if r.Null {
			return w.WriteNullArray()
		}
		if err := w.WriteArrayHeader(len(r.Array)); err != nil {
			return err
		}
		for _, item := range r.Array {
			if err := w.WriteReply(item); err != nil {
				return err
			}
		}
		return nil

	default:
		logger.Info("Writer unknown reply kind", "kind", r.Kind)
		return fmt.Errorf("%w: unknown reply kind %d", ErrInvalidSyntax, r.Kind)
	}
}

// WriteStatus writes a status response (e.g., "OK")
func (w *Writer) WriteStatus(status string) error {
	if err := w.writer.WriteByte(RespStatus); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(status); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteError writes an error response
func (w *Writer) WriteError(msg string) error {
	if err := w.writer.WriteByte(RespError); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(msg); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *Writer) WriteInt64(n int64) error {
	return w.writeHeader(RespInt, n)
}

// WriteBulkString writes a bulk string. A nil slice is written as the null
// bulk string.
func (w *Writer) WriteBulkString(b []byte) error {
	if b == nil {
		return w.WriteNullBulk()
	}
	if err := w.writeHeader(RespString, int64(len(b))); err != nil {
		return err
	}
	if _, err := w.writer.Write(b); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *Writer) WriteArrayHeader(n int) error {
	return w.writeHeader(RespArray, int64(n))
}

func (w *Writer) WriteNullBulk() error {
	_, err := w.writer.WriteString(Nil)
	return err
}

func (w *Writer) WriteNullArray() error {
	_, err := w.writer.WriteString(NilArray)
	return err
}

func (w *Writer) writeHeader(marker byte, n int64) error {
	if err := w.writer.WriteByte(marker); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(strconv.FormatInt(n, 10)); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *Writer) writeCRLF() error {
	_, err := w.writer.WriteString(CRLF)
	return err
}

// Flush writes any buffered data to the underlying io.Writer
func (w *Writer) Flush() error {
	return w.writer.Flush()
}

func (w *Writer) Buffered() int {
	return w.writer.Buffered()
}

func (w *Writer) Reset(wr io.Writer) {
	w.writer.Reset(wr)
}
