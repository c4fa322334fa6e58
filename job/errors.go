package job

import (
	"net"
	"net/url"

	"github.com/zdmr/zdmr/cmn"
)

// classifyHTTPError maps a response status code to the taxonomy code an
// attempt should record, per spec.md §4.F step 3.
func classifyHTTPError(status int) cmn.ErrorCode {
	switch {
	case status >= 400 && status < 500:
		return cmn.ErrHTTP4xx
	case status >= 500 && status < 600:
		return cmn.ErrHTTP5xx
	default:
		return cmn.ErrUnknown
	}
}

// classifyTransportError maps a client.Do failure to a taxonomy code, the
// Go analogue of engine/job.rs's set_reqwest_error dispatch on
// reqwest::Error::{is_timeout,is_connect}.
func classifyTransportError(err error) cmn.ErrorCode {
	if err == nil {
		return cmn.ErrUnknown
	}
	if urlErr, ok := err.(*url.Error); ok {
		if urlErr.Timeout() {
			return cmn.ErrTimeout
		}
		var dnsErr *net.DNSError
		if e, ok := urlErr.Err.(*net.DNSError); ok {
			dnsErr = e
		}
		if dnsErr != nil {
			return cmn.ErrDNSFail
		}
		var opErr *net.OpError
		if e, ok := urlErr.Err.(*net.OpError); ok {
			opErr = e
		}
		if opErr != nil {
			return cmn.ErrConnectFail
		}
	}
	return cmn.ErrUnknown
}
