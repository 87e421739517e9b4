package script

// Error is a failure raised while loading or running a script. The fields
// travel back to the sandbox manager unchanged.
type Error struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Name + ": " + e.Message
}
