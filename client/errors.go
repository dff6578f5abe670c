package client

import "gbxremote/xmlrpc"

// NotConnectedError is returned by Call when issued outside the Connected
// state.
type NotConnectedError struct {
	State State
}

func (e *NotConnectedError) Error() string {
	return "gbxremote: call issued while " + e.State.String()
}

// DisconnectedError is the terminal error delivered to every pending call
// and passed to every Disconnected handler when the connection drops.
type DisconnectedError struct {
	Cause error
}

func (e *DisconnectedError) Error() string {
	if e.Cause == nil {
		return "gbxremote: connection closed"
	}
	return "gbxremote: connection closed: " + e.Cause.Error()
}

func (e *DisconnectedError) Unwrap() error {
	return e.Cause
}

// FaultError adapts an xmlrpc.Fault to the standard error interface. Call
// never returns one itself — a well-formed fault is a normal, non-terminal
// result carried on Response.Fault — but a caller who prefers the
// errors.As idiom over checking IsFault() can get one from AsError.
type FaultError struct {
	*xmlrpc.Fault
}

func (e *FaultError) Error() string {
	return e.Fault.Error()
}

// AsError converts a fault response into a *FaultError, or returns nil for
// a non-fault response. Typical use:
//
//	resp, err := c.Call(ctx, "Authenticate", method.Str(login), method.Str(pass))
//	if err != nil {
//		return err
//	}
//	if err := client.AsError(resp); err != nil {
//		return err // var fe *client.FaultError; errors.As(err, &fe) recovers code/message
//	}
func AsError(resp *xmlrpc.Response) error {
	if resp == nil || !resp.IsFault() {
		return nil
	}
	return &FaultError{Fault: resp.Fault}
}
