package handler

import (
	"fmt"
	"strconv"

	"github.com/danmuck/edgemesh/internal/protocol"
)

const (
	messagePrefix   = "Message"
	exceptionPrefix = "Exception"

	fallbackFailure = "request failed"
)

// Response is the outcome of one handler call. Messages are auto-keyed
// Message0, Message1, ... unless set under an explicit key; exceptions are
// kept apart and merged into the payload only when the response is encoded.
type Response struct {
	Success bool

	// Recipient overrides the response recipientId, which otherwise is the
	// request sender.
	Recipient string

	messages   protocol.Payload
	exceptions protocol.Payload
}

func Succeeded(messages ...string) Response {
	r := Response{Success: true}
	for _, m := range messages {
		r.AddMessage(m)
	}
	return r
}

func Failed(messages ...string) Response {
	r := Response{}
	for _, m := range messages {
		r.AddMessage(m)
	}
	return r
}

// FailedWith is a failure carrying err as an exception.
func FailedWith(err error) Response {
	r := Response{}
	r.AddException(err)
	return r
}

func (r *Response) AddMessage(msg string) {
	r.messages.Set(nextKey(r.messages, messagePrefix), msg)
}

func (r *Response) SetMessage(key, value string) {
	r.messages.Set(key, value)
}

func (r *Response) AddException(err error) {
	if err == nil {
		return
	}
	r.exceptions.Set(nextKey(r.exceptions, exceptionPrefix), err.Error())
}

func (r Response) Messages() protocol.Payload {
	return r.messages.Clone()
}

func (r Response) Exceptions() protocol.Payload {
	return r.exceptions.Clone()
}

// Payload merges exceptions after messages. A failure never encodes empty.
func (r Response) Payload() protocol.Payload {
	out := r.messages.Merge(r.exceptions)
	if !r.Success && out.Empty() {
		out.Set(messagePrefix+"0", fallbackFailure)
	}
	return out
}

// Err summarises a failed response, or returns nil on success.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if first, ok := r.Payload().First(); ok {
		return fmt.Errorf("handler: %s", first.Value)
	}
	return fmt.Errorf("handler: %s", fallbackFailure)
}

func nextKey(p protocol.Payload, prefix string) string {
	for i := 0; ; i++ {
		key := prefix + strconv.Itoa(i)
		if _, taken := p.Get(key); !taken {
			return key
		}
	}
}
