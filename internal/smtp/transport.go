// Package smtp drives the partial SMTP dialogue used for address
// verification: a transport that speaks line-oriented SMTP over one TCP
// connection, a session that walks the GREETING..QUIT state machine on
// top of it, and a response interpreter.
package smtp

import (
	"bufio"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Defaults applied by NewTransport when the caller leaves a field zero.
const (
	DefaultPort           = "25"
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 15 * time.Second
)

// TransportError wraps a connect/read/socket failure with the
// host:port it was talking to.
type TransportError struct {
	Addr string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrNotConnected is returned by SendCommand/ReadResponse calls made
// before Connect succeeded or after the handle has been closed.
var ErrNotConnected = fmt.Errorf("smtp transport: not connected")

// Dialer abstracts the network dial so a SOCKS5 proxy can be
// substituted for a direct connection: if a proxy is configured, it is
// used with no silent fallback to a direct dial on failure.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

// ProxyConfig configures an authenticated SOCKS5 egress proxy for the
// SMTP TCP dial.
type ProxyConfig struct {
	Address  string
	Username string
	Password string
}

func (p *ProxyConfig) dialer() (Dialer, error) {
	if p == nil || p.Address == "" {
		return nil, nil
	}
	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	d, err := proxy.SOCKS5("tcp", p.Address, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("smtp transport: creating SOCKS5 dialer: %w", err)
	}
	return d, nil
}

// Transport is a scoped handle bound to (host, port). Once Connect
// succeeds it supports SendCommand and ReadResponse; Close releases the
// socket exactly once and is safe to call multiple times.
type Transport struct {
	Host           string
	Port           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Proxy          *ProxyConfig

	conn   net.Conn
	reader *textproto.Reader
	closed bool
}

// NewTransport builds a Transport with the package defaults applied
// for any zero-valued field.
func NewTransport(host, port string, proxyCfg *ProxyConfig) *Transport {
	if port == "" {
		port = DefaultPort
	}
	return &Transport{
		Host:           host,
		Port:           port,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		Proxy:          proxyCfg,
	}
}

func (t *Transport) addr() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// Connect dials the remote host, optionally through the configured
// SOCKS5 proxy. Cleanup after a partial connect is mandatory: on any
// failure after a successful dial, the socket is closed before the
// error is returned.
func (t *Transport) Connect() error {
	addr := t.addr()

	dialer, err := t.Proxy.dialer()
	if err != nil {
		return &TransportError{Addr: addr, Op: "connect", Err: err}
	}

	var conn net.Conn
	if dialer != nil {
		conn, err = dialWithTimeout(dialer, addr, t.connectTimeout())
	} else {
		conn, err = net.DialTimeout("tcp", addr, t.connectTimeout())
	}
	if err != nil {
		return &TransportError{Addr: addr, Op: "connect", Err: err}
	}

	t.conn = conn
	t.reader = textproto.NewReader(bufio.NewReader(conn))
	return nil
}

func (t *Transport) connectTimeout() time.Duration {
	if t.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return t.ConnectTimeout
}

func (t *Transport) readTimeout() time.Duration {
	if t.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return t.ReadTimeout
}

// dialWithTimeout bounds a proxy.Dialer.Dial call (which has no native
// timeout support) with a timer.
func dialWithTimeout(d Dialer, addr string, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.Dial("tcp", addr)
		ch <- result{conn, err}
	}()
	select {
	case res := <-ch:
		return res.conn, res.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("proxy dial timeout after %s", timeout)
	}
}

// SendCommand writes one command line, terminated explicitly with
// CRLF regardless of platform conventions.
func (t *Transport) SendCommand(line string) error {
	if t.closed || t.conn == nil {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.readTimeout()))
	_, err := t.conn.Write([]byte(line + "\r\n"))
	if err != nil {
		return &TransportError{Addr: t.addr(), Op: "send", Err: err}
	}
	return nil
}

// ReadResponse reads a (possibly multi-line) SMTP response. Lines of
// the form "NNN-msg" are continuations; a line "NNN msg" (4th byte is
// space) terminates the sequence, as does a bare "NNN" with no
// separator or message. A line whose first three bytes aren't a
// decimal code terminates reassembly as a malformed final line.
// Continuation lines are joined with "\n".
func (t *Transport) ReadResponse() (code int, message string, err error) {
	if t.closed || t.conn == nil {
		return -1, "", ErrNotConnected
	}
	t.conn.SetReadDeadline(time.Now().Add(t.readTimeout()))

	var lines []string
	lastCode := NoResponseCode
	codeSet := false
	for {
		raw, rerr := t.reader.ReadLine()
		if rerr != nil {
			if len(lines) > 0 {
				// Partial read mid-reassembly: surface what we have as a
				// parse failure upstream rather than a transport error.
				lastCode = NoResponseCode
				break
			}
			return -1, "", &TransportError{Addr: t.addr(), Op: "read", Err: rerr}
		}
		line := strings.TrimRight(raw, "\r\n")
		if len(line) < 3 {
			lines = append(lines, line)
			break
		}
		c, perr := parseLeadingCode(line[:3])
		if perr != nil {
			// No reliable continuation marker without a numeric code:
			// treat the whole line as the final, malformed response.
			lines = append(lines, line)
			break
		}
		if !codeSet {
			lastCode = c
			codeSet = true
		}
		if len(line) < 4 {
			// Bare 3-digit code with no separator or message: treat as
			// the final line, same as a terminating "NNN " line.
			break
		}
		lines = append(lines, strings.TrimSpace(line[4:]))
		if line[3] == ' ' {
			break
		}
		// line[3] == '-' => continuation, keep reading.
	}
	msg := strings.Join(lines, "\n")
	if msg == "" && !codeSet {
		return NoResponseCode, "NO_RESPONSE", nil
	}
	return lastCode, msg, nil
}

func parseLeadingCode(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not numeric: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// Close flushes and closes the socket exactly once. Close never
// returns an error to the caller that would prevent cleanup
// elsewhere; it is safe to call on an already-closed or never-connected
// Transport.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
