package domain

// NoticeKind is the severity of a user-facing notice
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeWarning NoticeKind = "warning"
)

// Notice is a short message shown to the user after an action
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Success creates a success notice
func Success(message string) Notice {
	return Notice{Kind: NoticeSuccess, Message: message}
}

// Failure creates an error notice
func Failure(message string) Notice {
	return Notice{Kind: NoticeError, Message: message}
}

// Warning creates a warning notice
func Warning(message string) Notice {
	return Notice{Kind: NoticeWarning, Message: message}
}
