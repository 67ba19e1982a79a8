package retry

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Rule maps the errors Match accepts to a Class.
type Rule struct {
	Name  string
	Class Class
	Match func(error) bool
}

// Classifier is an ordered rule table; the first match wins and anything
// unmatched is fatal.
type Classifier []Rule

func (c Classifier) Classify(err error) Class {
	for _, r := range c {
		if r.Match(err) {
			return r.Class
		}
	}
	return Fatal
}

// Name returns the name of the rule matching err, or "fatal".
func (c Classifier) Name(err error) string {
	for _, r := range c {
		if r.Match(err) {
			return r.Name
		}
	}
	return "fatal"
}

// IsNetworkFault matches timeouts, refused or aborted connections, DNS
// failures and truncated responses.
func IsNetworkFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NetworkRule is the transient rule every platform table starts from.
var NetworkRule = Rule{Name: "network", Class: Transient, Match: IsNetworkFault}
