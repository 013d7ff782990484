package command

import (
	"math"
	"strings"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

const (
	maxSeconds = math.MaxInt64 / int64(time.Second)
	maxMillis  = math.MaxInt64 / int64(time.Millisecond)
)

// Parse validates a decoded request and builds the matching command.
// Every failure is an *Error whose message is ready to be sent to the client
func Parse(req resp.Value) (Command, error) {
	if req.Type != resp.TypeArray || req.IsNull {
		return nil, &Error{Msg: "ERR Protocol error: expected array of bulk strings"}
	}
	if len(req.Array) == 0 {
		return nil, &Error{Msg: "ERR empty command"}
	}
	if err := resp.CheckRequest(req); err != nil {
		return nil, &Error{Msg: "ERR Protocol error: " + resp.ProtocolReason(err)}
	}

	args := req.Args()
	name := strings.ToUpper(args[0])

	meta, ok := commandRegistry[name]
	if !ok {
		return nil, ErrUnknown(args[0], args[1:])
	}
	if !meta.checkArity(len(args)) {
		return nil, ErrWrongArity(name)
	}

	return meta.parse(args[1:])
}

// ParseArgs is Parse for an already split command line
func ParseArgs(args ...string) (Command, error) {
	return Parse(resp.MakeBulkArray(args))
}

func parsePing(args []string) (Command, error) {
	switch len(args) {
	case 0:
		return Ping{}, nil
	case 1:
		return Ping{Message: args[0], HasMessage: true}, nil
	}
	return nil, ErrWrongArity("PING")
}

func parseEcho(args []string) (Command, error) {
	return Echo{Message: args[0]}, nil
}

func parseGet(args []string) (Command, error) {
	return Get{Key: args[0]}, nil
}

func parseMGet(args []string) (Command, error) {
	return MGet{Keys: args}, nil
}

func parseDel(args []string) (Command, error) {
	return Del{Keys: args}, nil
}

func parseExists(args []string) (Command, error) {
	return Exists{Keys: args}, nil
}

func parseIncr(args []string) (Command, error) {
	return IncrBy{Cmd: "INCR", Key: args[0], Delta: 1}, nil
}

func parseDecr(args []string) (Command, error) {
	return IncrBy{Cmd: "DECR", Key: args[0], Delta: -1}, nil
}

func parseIncrBy(args []string) (Command, error) {
	delta, err := storage.ParseInteger(args[1])
	if err != nil {
		return nil, errSyntax
	}
	return IncrBy{Cmd: "INCRBY", Key: args[0], Delta: delta}, nil
}

func parseDecrBy(args []string) (Command, error) {
	delta, err := storage.ParseInteger(args[1])
	if err != nil {
		return nil, errSyntax
	}
	if delta == math.MinInt64 {
		return nil, &Error{Msg: "ERR decrement would overflow"}
	}
	return IncrBy{Cmd: "DECRBY", Key: args[0], Delta: -delta}, nil
}

func parseExpire(args []string) (Command, error) {
	seconds, err := storage.ParseInteger(args[1])
	if err != nil {
		return nil, errNotInteger
	}
	if seconds > maxSeconds {
		return nil, invalidExpire("expire")
	}
	return Expire{Key: args[0], Seconds: seconds}, nil
}

func parseTTL(args []string) (Command, error) {
	return TTL{Key: args[0]}, nil
}

func parsePTTL(args []string) (Command, error) {
	return TTL{Key: args[0], Millis: true}, nil
}

func parsePersist(args []string) (Command, error) {
	return Persist{Key: args[0]}, nil
}

func parseKeys(args []string) (Command, error) {
	return Keys{Pattern: args[0]}, nil
}

func parseFlushAll(_ []string) (Command, error) {
	return FlushAll{}, nil
}

func parseDBSize(_ []string) (Command, error) {
	return DBSize{}, nil
}

func parseInfo(args []string) (Command, error) {
	if len(args) == 0 {
		return Info{}, nil
	}

	sub := strings.ToUpper(args[0])
	switch sub {
	case "COUNT":
		if len(args) != 1 {
			return nil, ErrWrongArity("COMMAND|COUNT")
		}
		return Info{Sub: sub}, nil
	case "INFO", "DOCS":
		names := make([]string, len(args)-1)
		for i, n := range args[1:] {
			names[i] = strings.ToUpper(n)
		}
		return Info{Sub: sub, Names: names}, nil
	}

	return nil, errorf("ERR unknown subcommand '%s'. Try COMMAND HELP.", args[0])
}

// parseSet handles SET key value [NX | XX] [EX seconds | PX milliseconds |
// EXAT unix-time-seconds | PXAT unix-time-milliseconds | KEEPTTL]
func parseSet(args []string) (Command, error) {
	cmd := Set{Key: args[0], Value: args[1]}
	opts := &cmd.Options
	ttlSet := false

	for i := 2; i < len(args); i++ {
		switch opt := strings.ToUpper(args[i]); opt {
		case "NX":
			if opts.XX {
				return nil, errSyntax
			}
			opts.NX = true

		case "XX":
			if opts.NX {
				return nil, errSyntax
			}
			opts.XX = true

		case "KEEPTTL":
			if ttlSet {
				return nil, errSyntax
			}
			opts.KeepTTL = true
			ttlSet = true

		case "EX", "PX", "EXAT", "PXAT":
			if ttlSet || i+1 >= len(args) {
				return nil, errSyntax
			}
			i++

			n, err := storage.ParseInteger(args[i])
			if err != nil {
				return nil, errNotInteger
			}
			if err := applyExpiry(opts, opt, n); err != nil {
				return nil, err
			}
			ttlSet = true

		default:
			return nil, errSyntax
		}
	}

	return cmd, nil
}

func applyExpiry(opts *storage.SetOptions, unit string, n int64) error {
	if n <= 0 {
		return invalidExpire("set")
	}

	switch unit {
	case "EX":
		if n > maxSeconds {
			return invalidExpire("set")
		}
		opts.TTL = time.Duration(n) * time.Second
	case "PX":
		if n > maxMillis {
			return invalidExpire("set")
		}
		opts.TTL = time.Duration(n) * time.Millisecond
	case "EXAT":
		if n > maxSeconds {
			return invalidExpire("set")
		}
		opts.ExpireAt = time.Unix(n, 0)
	case "PXAT":
		if n > maxMillis {
			return invalidExpire("set")
		}
		opts.ExpireAt = time.UnixMilli(n)
	}

	return nil
}

func invalidExpire(cmd string) *Error {
	return errorf("ERR invalid expire time in '%s' command", cmd)
}
