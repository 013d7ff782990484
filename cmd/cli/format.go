package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eternalApril/moonkv/internal/resp"
)

var errUnbalancedQuotes = errors.New("invalid argument(s): unbalanced quotes")

// FormatReply renders a reply the way redis-cli does in a terminal
func FormatReply(v resp.Value) string {
	var b strings.Builder
	writeReply(&b, v, 0)
	return b.String()
}

func writeReply(b *strings.Builder, v resp.Value, indent int) {
	switch v.Type {
	case resp.TypeSimpleString:
		b.Write(v.String)

	case resp.TypeError:
		b.WriteString("(error) ")
		b.Write(v.String)

	case resp.TypeInteger:
		b.WriteString("(integer) ")
		b.WriteString(strconv.FormatInt(v.Integer, 10))

	case resp.TypeBulkString:
		if v.IsNull {
			b.WriteString("(nil)")
			return
		}
		b.WriteString(strconv.Quote(string(v.String)))

	case resp.TypeArray:
		if v.IsNull {
			b.WriteString("(nil)")
			return
		}
		if len(v.Array) == 0 {
			b.WriteString("(empty array)")
			return
		}

		width := len(strconv.Itoa(len(v.Array)))
		for i, el := range v.Array {
			if i > 0 {
				b.WriteByte('\n')
				b.WriteString(strings.Repeat(" ", indent))
			}
			prefix := fmt.Sprintf("%*d) ", width, i+1)
			b.WriteString(prefix)
			writeReply(b, el, indent+len(prefix))
		}

	default:
		fmt.Fprintf(b, "(unknown reply type %q)", v.Type)
	}
}

// SplitArgs splits a prompt line into arguments. Single and double quotes group words,
// double-quoted strings understand the usual backslash escapes
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   byte
		escaped bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]

		switch {
		case escaped:
			cur.WriteByte(unescape(c))
			escaped = false

		case quote != 0:
			switch {
			case c == quote:
				quote = 0
			case c == '\\' && quote == '"':
				escaped = true
			default:
				cur.WriteByte(c)
			}

		case c == '"' || c == '\'':
			quote = c
			inWord = true

		case c == ' ' || c == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}

		default:
			cur.WriteByte(c)
			inWord = true
		}
	}

	if quote != 0 || escaped {
		return nil, errUnbalancedQuotes
	}
	if inWord {
		args = append(args, cur.String())
	}

	return args, nil
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	}
	return c
}
