package internal

const (
	MaxRedirects = maxRedirects
	MaxErrorBody = maxErrorBody
)
