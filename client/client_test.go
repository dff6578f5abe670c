package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"gbxremote/frame"
	"gbxremote/handle"
	"gbxremote/xmlrpc"
)

// stubServer is a minimal GameBox-speaking TCP server for exercising Client
// against real socket I/O.
type stubServer struct {
	ln net.Listener
}

func startStubServer(t *testing.T, banner string, handle func(conn net.Conn)) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &stubServer{ln: ln}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var lenBuf [4]byte
		putBannerLen(lenBuf[:], uint32(len(banner)))
		conn.Write(lenBuf[:])
		conn.Write([]byte(banner))

		if handle != nil {
			handle(conn)
		}
	}()
	return s
}

func putBannerLen(buf []byte, n uint32) {
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)
}

func (s *stubServer) addr() string {
	return s.ln.Addr().String()
}

func (s *stubServer) close() {
	s.ln.Close()
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func TestConnectHandshakeSuccess(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, nil)
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if got := c.State(); got != Connected {
		t.Fatalf("state = %v, want Connected", got)
	}
}

func TestConnectHandshakeBadProtocol(t *testing.T) {
	srv := startStubServer(t, "NotGBXRemote", nil)
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Connect(ctx, host, port, 0, 10*time.Millisecond)
	if err == nil {
		t.Fatal("Connect: expected error, got nil")
	}
	if _, ok := err.(*frame.InvalidProtocolError); !ok {
		t.Fatalf("Connect error = %T(%v), want *frame.InvalidProtocolError", err, err)
	}
	if got := c.State(); got != Disconnected {
		t.Fatalf("state = %v, want Disconnected", got)
	}
}

func TestCallSimpleRoundTrip(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, func(conn net.Conn) {
		h, body, err := frame.ReadFrame(conn, frame.DefaultMaxBody)
		if err != nil {
			return
		}
		call, err := (&xmlrpc.Decoder{}).DecodeCall(body)
		if err != nil || call.Name != "GetVersion" {
			return
		}
		resp := xmlrpc.EncodeResponse(xmlrpc.Str("2023-04-18"))
		frame.WriteFrame(conn, h, resp)
	})
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	resp, err := c.Call(ctx, "GetVersion")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.IsFault() {
		t.Fatalf("unexpected fault: %v", resp.Fault)
	}
	got, ok := resp.Value.AsString()
	if !ok || got != "2023-04-18" {
		t.Fatalf("value = %q, ok=%v, want 2023-04-18", got, ok)
	}
}

func TestCallFaultResponse(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, func(conn net.Conn) {
		h, _, err := frame.ReadFrame(conn, frame.DefaultMaxBody)
		if err != nil {
			return
		}
		resp := xmlrpc.EncodeFault(&xmlrpc.Fault{Code: -1000, Message: "Not logged in."})
		frame.WriteFrame(conn, h, resp)
	})
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	resp, err := c.Call(ctx, "SomeMethod")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.IsFault() {
		t.Fatal("expected fault response")
	}
	if resp.Fault.Code != -1000 || resp.Fault.Message != "Not logged in." {
		t.Fatalf("fault = %+v", resp.Fault)
	}

	err = AsError(resp)
	if err == nil {
		t.Fatal("AsError: expected a non-nil error for a fault response")
	}
	var faultErr *FaultError
	if !errors.As(err, &faultErr) {
		t.Fatalf("AsError: got %T, want *FaultError", err)
	}
	if faultErr.Code != -1000 || faultErr.Message != "Not logged in." {
		t.Fatalf("faultErr = %+v", faultErr)
	}
}

func TestAsErrorNilForNonFault(t *testing.T) {
	resp := &xmlrpc.Response{Value: xmlrpc.Bool(true)}
	if err := AsError(resp); err != nil {
		t.Fatalf("AsError: got %v, want nil for a non-fault response", err)
	}
}

func TestCallRetriesOnDuplicateHandle(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, func(conn net.Conn) {
		h, _, err := frame.ReadFrame(conn, frame.DefaultMaxBody)
		if err != nil {
			return
		}
		resp := xmlrpc.EncodeResponse(xmlrpc.Bool(true))
		frame.WriteFrame(conn, h, resp)
	})
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// A fresh Allocator's first handle is always handle.Start; pre-register
	// it so the first Register call inside rawCall collides and must retry
	// with a fresh handle instead of failing the call.
	if _, err := c.pend.Register(handle.Start); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer c.pend.Cancel(handle.Start)

	resp, err := c.Call(ctx, "GetStatus")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.IsFault() {
		t.Fatalf("unexpected fault: %v", resp.Fault)
	}
}

func TestCallbackDuringOutstandingCall(t *testing.T) {
	release := make(chan struct{})
	srv := startStubServer(t, frame.Protocol, func(conn net.Conn) {
		h, _, err := frame.ReadFrame(conn, frame.DefaultMaxBody)
		if err != nil {
			return
		}
		// Send an unsolicited callback before answering the call.
		cb := xmlrpc.EncodeCall("ManiaPlanet.PlayerConnect", []xmlrpc.Value{xmlrpc.Str("login1")})
		frame.WriteFrame(conn, 1, cb)

		<-release
		resp := xmlrpc.EncodeResponse(xmlrpc.Bool(true))
		frame.WriteFrame(conn, h, resp)
	})
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	var gotCallback sync.WaitGroup
	gotCallback.Add(1)
	var callbackMethod string
	c.SubscribeCallback(func(method string, params []xmlrpc.Value) {
		callbackMethod = method
		gotCallback.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	done := make(chan struct{})
	go func() {
		c.Call(ctx, "SlowMethod")
		close(done)
	}()

	gotCallback.Wait()
	if callbackMethod != "ManiaPlanet.PlayerConnect" {
		t.Fatalf("callback method = %q", callbackMethod)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call did not complete after callback was delivered")
	}
}

func TestCallOutOfOrderReplies(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, func(conn net.Conn) {
		var handles []uint32
		for i := 0; i < 2; i++ {
			h, _, err := frame.ReadFrame(conn, frame.DefaultMaxBody)
			if err != nil {
				return
			}
			handles = append(handles, h)
		}
		// Reply in reverse order of receipt.
		for i := len(handles) - 1; i >= 0; i-- {
			resp := xmlrpc.EncodeResponse(xmlrpc.Int(int32(handles[i])))
			frame.WriteFrame(conn, handles[i], resp)
		}
	})
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	var wg sync.WaitGroup
	results := make([]int32, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Call(ctx, "Method")
			if err != nil {
				t.Errorf("Call %d: %v", i, err)
				return
			}
			n, ok := resp.Value.Int()
			if !ok {
				t.Errorf("Call %d: response not an int", i)
				return
			}
			results[i] = n
		}(i)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("both calls routed to the same handle: %d", results[0])
	}
	for i, r := range results {
		if uint32(r)&0x80000000 == 0 {
			t.Fatalf("result %d handle %d missing response bit", i, r)
		}
	}
}

func TestCallNotConnected(t *testing.T) {
	c := New()
	_, err := c.Call(context.Background(), "GetVersion")
	if err == nil {
		t.Fatal("expected error calling before Connect")
	}
	if _, ok := err.(*NotConnectedError); !ok {
		t.Fatalf("err = %T(%v), want *NotConnectedError", err, err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, nil)
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if got := c.State(); got != Disconnected {
		t.Fatalf("state = %v, want Disconnected", got)
	}
}

func TestDisconnectFiresHandlerExactlyOnce(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, nil)
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	var fired int
	var mu sync.Mutex
	c.SubscribeDisconnected(func(err error) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	mu.Lock()
	got := fired
	mu.Unlock()
	if got != 1 {
		t.Fatalf("disconnected handler fired %d times, want 1", got)
	}
}

func TestPendingCallsFailOnTransportDrop(t *testing.T) {
	srv := startStubServer(t, frame.Protocol, func(conn net.Conn) {
		// Read the call but never answer; then close the connection.
		frame.ReadFrame(conn, frame.DefaultMaxBody)
		conn.Close()
	})
	defer srv.close()

	c := New()
	host, port := hostPort(t, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, host, port, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.Call(ctx, "HangingMethod")
	if err == nil {
		t.Fatal("expected Call to fail once the transport drops")
	}
	if _, ok := err.(*DisconnectedError); !ok {
		t.Fatalf("err = %T(%v), want *DisconnectedError", err, err)
	}
}
