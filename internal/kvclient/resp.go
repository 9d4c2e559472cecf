package kvclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ReplyKind is the RESP type of a reply.
type ReplyKind int

const (
	ReplySimple ReplyKind = iota
	ReplyError
	ReplyInteger
	ReplyBulk
	ReplyArray
	ReplyNil
)

// Reply is a decoded RESP reply. It owns its memory.
type Reply struct {
	Kind  ReplyKind
	Str   string
	Int   int64
	Array []Reply
}

// ServerError is an error reply sent by the server.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string { return "server error: " + e.Msg }

var errProtocol = errors.New("RESP protocol error")

// Reply size limits. maxBulkLen matches the server's default
// proto-max-bulk-len.
const (
	maxBulkLen  = 512 << 20
	maxArrayLen = 1 << 20
)

// Encode renders a command as a RESP array of bulk strings.
func Encode(args ...string) []byte {
	buf := make([]byte, 0, 16*len(args)+16)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, a := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, a...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

// ReadReply decodes one reply from r.
func ReadReply(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, fmt.Errorf("%w: empty line", errProtocol)
	}
	body := string(line[1:])
	switch line[0] {
	case '+':
		return Reply{Kind: ReplySimple, Str: body}, nil
	case '-':
		return Reply{Kind: ReplyError, Str: body}, nil
	case ':':
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad integer %q", errProtocol, body)
		}
		return Reply{Kind: ReplyInteger, Int: n}, nil
	case '$':
		n, err := strconv.Atoi(body)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad bulk length %q", errProtocol, body)
		}
		if n < 0 {
			return Reply{Kind: ReplyNil}, nil
		}
		if n > maxBulkLen {
			return Reply{}, fmt.Errorf("%w: bulk length %d exceeds %d", errProtocol, n, maxBulkLen)
		}
		data := make([]byte, n+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return Reply{}, err
		}
		if data[n] != '\r' || data[n+1] != '\n' {
			return Reply{}, fmt.Errorf("%w: bulk string not terminated by CRLF", errProtocol)
		}
		return Reply{Kind: ReplyBulk, Str: string(data[:n])}, nil
	case '*':
		n, err := strconv.Atoi(body)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad array length %q", errProtocol, body)
		}
		if n < 0 {
			return Reply{Kind: ReplyNil}, nil
		}
		if n > maxArrayLen {
			return Reply{}, fmt.Errorf("%w: array length %d exceeds %d", errProtocol, n, maxArrayLen)
		}
		items := make([]Reply, 0, min(n, 1024))
		for range n {
			item, err := ReadReply(r)
			if err != nil {
				return Reply{}, err
			}
			items = append(items, item)
		}
		return Reply{Kind: ReplyArray, Array: items}, nil
	default:
		return Reply{}, fmt.Errorf("%w: unexpected type byte %q", errProtocol, line[0])
	}
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: line not terminated by CRLF", errProtocol)
	}
	return line[:len(line)-2], nil
}

// Err converts an error reply into a *ServerError.
func (r Reply) Err() error {
	if r.Kind == ReplyError {
		return &ServerError{Msg: r.Str}
	}
	return nil
}

// Strings flattens an array reply of bulk or simple strings. Nil elements
// become empty strings.
func (r Reply) Strings() ([]string, error) {
	switch r.Kind {
	case ReplyNil:
		return []string{}, nil
	case ReplyArray:
		out := make([]string, len(r.Array))
		for i, item := range r.Array {
			switch item.Kind {
			case ReplyBulk, ReplySimple, ReplyNil:
				out[i] = item.Str
			case ReplyInteger:
				out[i] = strconv.FormatInt(item.Int, 10)
			default:
				return nil, fmt.Errorf("%w: unexpected element kind %d in array", errProtocol, item.Kind)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected array reply, got kind %d", errProtocol, r.Kind)
	}
}

// StringMap interprets an array reply as alternating field/value pairs.
func (r Reply) StringMap() (map[string]string, error) {
	flat, err := r.Strings()
	if err != nil {
		return nil, err
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of elements in field/value reply", errProtocol)
	}
	out := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out, nil
}
