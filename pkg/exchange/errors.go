package exchange

import "fmt"

type NoTypeError struct {
	File string
}

func (e *NoTypeError) Error() string {
	return fmt.Sprintf("file %s has no message type", e.File)
}

type EmptyMessageError struct {
	File string
}

func (e *EmptyMessageError) Error() string {
	return fmt.Sprintf("file %s has no message fields", e.File)
}

// MissingFieldError reports a required push field that was absent or blank.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("push message is missing %s", e.Field)
}

type SensorTypeError struct {
	Value string
}

func (e *SensorTypeError) Error() string {
	return fmt.Sprintf("sensor type %q is not a number", e.Value)
}
