package util

// Unwrap strips stack trace and context wrappers, returning the root error.
// Both stackerr (Underlying) and pkg/errors (Cause) wrappers are understood.
func Unwrap(err error) error {
	type hasUnderlying interface {
		Underlying() error
	}
	type hasCause interface {
		Cause() error
	}
	for err != nil {
		switch e := err.(type) {
		case hasUnderlying:
			err = e.Underlying()
		case hasCause:
			next := e.Cause()
			if next == err {
				return err
			}
			err = next
		default:
			return err
		}
	}
	return err
}
