package natsutil

// IsValidToken reports whether s is usable as a stream, consumer, bucket or
// key token: non-empty and made of ASCII letters, digits, '-' or '_'.
func IsValidToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}

	return true
}
