package connectivity

import "fmt"

// ErrServiceNotFound is returned when Call targets a service with no route
// and no local handler.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("connectivity: service not routable: %s", e.Service)
}

// ErrNoFactory is returned by RegisterRemote when the protocol has no
// registered TransportFactory.
type ErrNoFactory struct {
	Service  string
	Strategy string
}

func (e *ErrNoFactory) Error() string {
	return fmt.Sprintf("connectivity: no transport factory for strategy %q (service %s)", e.Strategy, e.Service)
}

// ErrFactoryFailed is returned when a TransportFactory cannot build a
// handler for a route.
type ErrFactoryFailed struct {
	Service  string
	Strategy string
	Endpoint string
	Cause    error
}

func (e *ErrFactoryFailed) Error() string {
	return fmt.Sprintf("connectivity: factory %q failed for service %s (endpoint %s): %v",
		e.Strategy, e.Service, e.Endpoint, e.Cause)
}

func (e *ErrFactoryFailed) Unwrap() error { return e.Cause }

// ErrRemoteStatus is returned by HTTP handlers when the endpoint answers
// non-2xx. Body is kept so callers can surface the remote error.
type ErrRemoteStatus struct {
	Endpoint string
	Status   int
	Body     []byte
}

func (e *ErrRemoteStatus) Error() string {
	return fmt.Sprintf("connectivity/http: %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}
