package command

import (
	"strings"

	"github.com/eternalApril/moonkv/internal/resp"
)

// Reply renders the answer to a COMMAND request
func (c Info) Reply() resp.Value {
	switch c.Sub {
	case "COUNT":
		return resp.MakeInteger(int64(len(commandRegistry)))
	case "DOCS":
		return getCommandsDocs(c.Names)
	case "INFO":
		if len(c.Names) == 0 {
			return getAllCommands()
		}
		return getCommandsInfo(c.Names)
	}
	return getAllCommands()
}

func makeFlagsArray(flags []string) resp.Value {
	vals := make([]resp.Value, len(flags))
	for i, f := range flags {
		vals[i] = resp.MakeSimpleString(f)
	}
	return resp.MakeArray(vals)
}

func makeInfoCmdArray(name string) resp.Value {
	meta := commandRegistry[name]
	return resp.MakeArray([]resp.Value{
		resp.MakeBulkString(strings.ToLower(name)),
		resp.MakeInteger(int64(meta.arity)),
		makeFlagsArray(meta.flags),
		resp.MakeInteger(int64(meta.firstKey)),
		resp.MakeInteger(int64(meta.lastKey)),
		resp.MakeInteger(int64(meta.step)),
	})
}

func getAllCommands() resp.Value {
	names := Names()
	cmdArray := make([]resp.Value, 0, len(names))
	for _, name := range names {
		cmdArray = append(cmdArray, makeInfoCmdArray(name))
	}
	return resp.MakeArray(cmdArray)
}

// getCommandsInfo returns one entry per requested name, nil for unknown commands
func getCommandsInfo(names []string) resp.Value {
	cmdArray := make([]resp.Value, 0, len(names))
	for _, name := range names {
		if !Known(name) {
			cmdArray = append(cmdArray, resp.MakeNilArray())
			continue
		}
		cmdArray = append(cmdArray, makeInfoCmdArray(name))
	}
	return resp.MakeArray(cmdArray)
}

// getCommandsDocs returns documentation for specified commands or all commands
// Format: [Name, [Summary, val, Since, val...], Name, [...]]
func getCommandsDocs(names []string) resp.Value {
	if len(names) == 0 {
		names = Names()
	}

	result := make([]resp.Value, 0, len(names)*2)

	for _, name := range names {
		meta, ok := commandRegistry[name]
		if !ok {
			continue
		}
		doc := meta.doc

		result = append(result, resp.MakeBulkString(strings.ToLower(name)))

		props := []resp.Value{
			resp.MakeBulkString("summary"),
			resp.MakeBulkString(doc.summary),
			resp.MakeBulkString("since"),
			resp.MakeBulkString(doc.since),
			resp.MakeBulkString("group"),
			resp.MakeBulkString(doc.group),
			resp.MakeBulkString("complexity"),
			resp.MakeBulkString(doc.complexity),
		}

		result = append(result, resp.MakeArray(props))
	}

	return resp.MakeArray(result)
}
