package command

import "sort"

type parseFunc func(args []string) (Command, error)

type commandMetadata struct {
	arity    int      // Arity includes the command name itself, negative means "at least"
	flags    []string // readonly, write, fast, denyoom, etc
	firstKey int      // 1-based index of the first key
	lastKey  int      // 1-based index of the last key
	step     int      // Step count for finding keys
	doc      commandDoc
	parse    parseFunc
}

// commandDoc stores a description for the command
type commandDoc struct {
	summary    string
	complexity string
	group      string
	since      string
}

var (
	commandRegistry = map[string]commandMetadata{
		"PING": {-1, []string{"fast", "stale"}, 0, 0, 0, commandDoc{
			"Ping the server.", "O(1)", "connection", "1.0.0"}, parsePing},
		"ECHO": {2, []string{"fast"}, 0, 0, 0, commandDoc{
			"Echo the given string.", "O(1)", "connection", "1.0.0"}, parseEcho},
		"GET": {2, []string{"readonly", "fast"}, 1, 1, 1, commandDoc{
			"Get the value of a key.", "O(1)", "string", "1.0.0"}, parseGet},
		"SET": {-3, []string{"write", "denyoom"}, 1, 1, 1, commandDoc{
			"Set the string value of a key.", "O(1)", "string", "1.0.0"}, parseSet},
		"MGET": {-2, []string{"readonly", "fast"}, 1, -1, 1, commandDoc{
			"Get the values of all the given keys.", "O(N) where N is the number of keys to retrieve.", "string", "1.0.0"}, parseMGet},
		"INCR": {2, []string{"write", "denyoom", "fast"}, 1, 1, 1, commandDoc{
			"Increment the integer value of a key by one.", "O(1)", "string", "1.0.0"}, parseIncr},
		"DECR": {2, []string{"write", "denyoom", "fast"}, 1, 1, 1, commandDoc{
			"Decrement the integer value of a key by one.", "O(1)", "string", "1.0.0"}, parseDecr},
		"INCRBY": {3, []string{"write", "denyoom", "fast"}, 1, 1, 1, commandDoc{
			"Increment the integer value of a key by the given amount.", "O(1)", "string", "1.0.0"}, parseIncrBy},
		"DECRBY": {3, []string{"write", "denyoom", "fast"}, 1, 1, 1, commandDoc{
			"Decrement the integer value of a key by the given number.", "O(1)", "string", "1.0.0"}, parseDecrBy},
		"DEL": {-2, []string{"write"}, 1, -1, 1, commandDoc{
			"Delete a key.", "O(N) where N is the number of keys that will be removed.", "generic", "1.0.0"}, parseDel},
		"EXISTS": {-2, []string{"readonly", "fast"}, 1, -1, 1, commandDoc{
			"Determine if a key exists.", "O(N) where N is the number of keys to check.", "generic", "1.0.0"}, parseExists},
		"EXPIRE": {3, []string{"write", "fast"}, 1, 1, 1, commandDoc{
			"Set a key's time to live in seconds.", "O(1)", "generic", "1.0.0"}, parseExpire},
		"TTL": {2, []string{"readonly", "fast"}, 1, 1, 1, commandDoc{
			"Get the time to live for a key in seconds.", "O(1)", "generic", "1.0.0"}, parseTTL},
		"PTTL": {2, []string{"readonly", "fast"}, 1, 1, 1, commandDoc{
			"Get the time to live for a key in milliseconds.", "O(1)", "generic", "2.6.0"}, parsePTTL},
		"PERSIST": {2, []string{"write", "fast"}, 1, 1, 1, commandDoc{
			"Remove the expiration from a key.", "O(1)", "generic", "2.2.0"}, parsePersist},
		"KEYS": {2, []string{"readonly", "sort_for_script"}, 0, 0, 0, commandDoc{
			"Find all keys matching the given pattern.", "O(N) with N being the number of keys in the database.", "generic", "1.0.0"}, parseKeys},
		"FLUSHALL": {1, []string{"write"}, 0, 0, 0, commandDoc{
			"Remove all keys from all databases.", "O(N) where N is the total number of keys in all databases.", "server", "1.0.0"}, parseFlushAll},
		"DBSIZE": {1, []string{"readonly", "fast"}, 0, 0, 0, commandDoc{
			"Return the number of keys in the selected database.", "O(1)", "server", "1.0.0"}, parseDBSize},
		"COMMAND": {-1, []string{"random", "loading", "stale"}, 0, 0, 0, commandDoc{
			"Get array of command details.", "O(N) where N is the number of commands to look up.", "server", "2.8.13"}, parseInfo},
	}
)

// Known reports whether name (upper-case) is a registered command
func Known(name string) bool {
	_, ok := commandRegistry[name]
	return ok
}

// Names returns every registered command name, sorted
func Names() []string {
	names := make([]string, 0, len(commandRegistry))
	for name := range commandRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkArity validates the argument count, command name included
func (m commandMetadata) checkArity(argc int) bool {
	if m.arity >= 0 {
		return argc == m.arity
	}
	return argc >= -m.arity
}
