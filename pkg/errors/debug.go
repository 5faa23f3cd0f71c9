package errors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	URL       string `json:"url,omitempty"`
	Operation string `json:"operation,omitempty"`
	Timeout   bool   `json:"timeout,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Operation = te.Op()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		d.Timeout = true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		d.URL = urlErr.URL
		if d.Operation == "" {
			d.Operation = urlErr.Op
		}
		if urlErr.Timeout() {
			d.Timeout = true
		}
	}

	return d
}
