package service

import "fmt"

// ReplyFunc builds the automated reply for an inbound body. It must be pure.
type ReplyFunc func(body string) string

func FixedReply(text string) ReplyFunc {
	return func(string) string { return text }
}

func EchoReply(body string) string {
	return "You said: " + body
}

// ReplyPolicy maps a configured mode to a ReplyFunc.
func ReplyPolicy(mode, text string) (ReplyFunc, error) {
	switch mode {
	case "", "fixed":
		return FixedReply(text), nil
	case "echo":
		return EchoReply, nil
	default:
		return nil, fmt.Errorf("unknown reply mode %q", mode)
	}
}
