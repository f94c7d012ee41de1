package codec

// ToJSON converts a Value into something json.Marshal can render on the
// wire: int64 -> number, varchar -> string, boolean -> true/false, date ->
// "YYYY-MM-DD", timestamp -> "YYYY-MM-DDTHH:MM:SS.sssZ", binary -> base64
// string (via []byte's built-in json.Marshaler), null -> null.
func ToJSON(v Value) any {
	switch v.Tag {
	case TagNull:
		return nil
	case TagInt64:
		return v.I64
	case TagVarchar:
		return v.Str
	case TagBool:
		return v.B
	case TagDate:
		return v.DateString()
	case TagTimestamp:
		return v.TimestampString()
	case TagBinary:
		return v.Bin
	default:
		return nil
	}
}
