package resp

import "strconv"

const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
)

// Value is a single RESP frame. Requests decode into an Array of BulkStrings,
// replies are built with the Make* helpers
type Value struct {
	String  []byte // SimpleString, Error, BulkString
	Array   []Value
	Integer int64 // Integer
	Type    byte
	IsNull  bool // For nil BulkString and nil Array
}

// Args returns the array elements as strings. Non-array values yield nil
func (v Value) Args() []string {
	if v.Type != TypeArray {
		return nil
	}

	args := make([]string, len(v.Array))
	for i, el := range v.Array {
		if el.Type == TypeInteger {
			args[i] = strconv.FormatInt(el.Integer, 10)
			continue
		}
		args[i] = string(el.String)
	}
	return args
}
