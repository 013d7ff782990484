// Package command turns decoded requests into typed commands.
// The set of commands is closed: every variant is declared here and the
// dispatcher matches them exhaustively
package command

import "github.com/eternalApril/moonkv/internal/storage"

// Command is a parsed, arity-checked request
type Command interface {
	// Name returns the upper-case command name as issued by the client
	Name() string
	isCommand()
}

type (
	Ping struct {
		Message    string
		HasMessage bool
	}

	Echo struct {
		Message string
	}

	Set struct {
		Key     string
		Value   string
		Options storage.SetOptions
	}

	Get struct {
		Key string
	}

	MGet struct {
		Keys []string
	}

	Del struct {
		Keys []string
	}

	Exists struct {
		Keys []string
	}

	// IncrBy covers INCR, DECR, INCRBY and DECRBY
	IncrBy struct {
		Cmd   string
		Key   string
		Delta int64
	}

	Expire struct {
		Key     string
		Seconds int64
	}

	// TTL covers TTL and PTTL
	TTL struct {
		Key    string
		Millis bool
	}

	Persist struct {
		Key string
	}

	Keys struct {
		Pattern string
	}

	FlushAll struct{}

	DBSize struct{}

	// Info is the COMMAND introspection command
	Info struct {
		Sub   string // "", COUNT, INFO or DOCS
		Names []string
	}
)

func (Ping) Name() string     { return "PING" }
func (Echo) Name() string     { return "ECHO" }
func (Set) Name() string      { return "SET" }
func (Get) Name() string      { return "GET" }
func (MGet) Name() string     { return "MGET" }
func (Del) Name() string      { return "DEL" }
func (Exists) Name() string   { return "EXISTS" }
func (c IncrBy) Name() string { return c.Cmd }
func (Expire) Name() string   { return "EXPIRE" }
func (Persist) Name() string  { return "PERSIST" }
func (Keys) Name() string     { return "KEYS" }
func (FlushAll) Name() string { return "FLUSHALL" }
func (DBSize) Name() string   { return "DBSIZE" }
func (Info) Name() string     { return "COMMAND" }

func (c TTL) Name() string {
	if c.Millis {
		return "PTTL"
	}
	return "TTL"
}

func (Ping) isCommand()     {}
func (Echo) isCommand()     {}
func (Set) isCommand()      {}
func (Get) isCommand()      {}
func (MGet) isCommand()     {}
func (Del) isCommand()      {}
func (Exists) isCommand()   {}
func (IncrBy) isCommand()   {}
func (Expire) isCommand()   {}
func (TTL) isCommand()      {}
func (Persist) isCommand()  {}
func (Keys) isCommand()     {}
func (FlushAll) isCommand() {}
func (DBSize) isCommand()   {}
func (Info) isCommand()     {}
