package app

// DomainError carries an HTTP status and machine-readable code alongside
// the message. The HTTP layer maps it straight onto the response.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	return e.Message
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

func badRequest(message string) *DomainError {
	return domainError(400, "BAD_REQUEST", message)
}

func conflict(message string) *DomainError {
	return domainError(409, "CONFLICT", message)
}
