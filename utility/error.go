package utility

// Error is a plain message error for conditions that carry no further data
type Error string

func (e Error) Error() string {
	return string(e)
}

func Err(m string) error {
	return Error(m)
}
