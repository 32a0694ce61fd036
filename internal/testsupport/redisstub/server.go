// Package redisstub runs a small in-process RESP2 server covering the commands
// the chat bus and the login limiter issue: counters with expiry and Pub/Sub.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	closed   chan struct{}
	certPEM  []byte

	mu          sync.Mutex
	kv          map[string]*kvEntry
	subscribers map[string]map[*session]struct{}
	sessions    map[*session]struct{}
}

type kvEntry struct {
	value  int64
	expiry time.Time
}

func (e *kvEntry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && !now.Before(e.expiry)
}

// session is one client connection. Pub/Sub pushes arrive from other
// goroutines, so every write holds mu.
type session struct {
	conn     net.Conn
	mu       sync.Mutex
	writer   *bufio.Writer
	channels map[string]struct{}
}

func (s *session) write(fn func(w *bufio.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.writer); err != nil {
		return err
	}
	return s.writer.Flush()
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:        opts,
		closed:      make(chan struct{}),
		kv:          make(map[string]*kvEntry),
		subscribers: make(map[string]map[*session]struct{}),
		sessions:    make(map[*session]struct{}),
	}
	addr := "127.0.0.1:0"
	var ln net.Listener
	var err error
	if opts.EnableTLS {
		certPEM, cert, certErr := generateSelfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.certPEM = certPEM
		ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// CertPEM returns the self-signed certificate when TLS is enabled.
func (s *Server) CertPEM() []byte {
	return s.certPEM
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
	return s.listener.Close()
}

// Subscribers reports how many connections are subscribed to channel.
func (s *Server) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[channel])
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	sess := &session{conn: conn, writer: bufio.NewWriter(conn), channels: make(map[string]struct{})}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.dropSession(sess)
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := sess.write(errorReply("ERR wrong number of arguments")); err != nil {
				return
			}
			continue
		}
		var reply func(*bufio.Writer) error
		switch cmd := strings.ToUpper(args[0]); {
		case cmd == "AUTH":
			reply = s.auth(args, &authenticated)
		case cmd == "HELLO":
			// Only RESP2 is spoken; clients fall back to AUTH.
			reply = errorReply("ERR unknown command 'HELLO'")
		case !authenticated:
			reply = errorReply("NOAUTH Authentication required.")
		default:
			reply = s.dispatch(sess, args)
		}
		if err := sess.write(reply); err != nil {
			return
		}
	}
}

func (s *Server) auth(args []string, authenticated *bool) func(*bufio.Writer) error {
	var password string
	switch len(args) {
	case 2:
		password = args[1]
	case 3:
		password = args[2]
	default:
		return errorReply("ERR wrong number of arguments for 'auth'")
	}
	if s.opts.Password != "" && password != s.opts.Password {
		return errorReply("WRONGPASS invalid username-password pair")
	}
	*authenticated = true
	return simpleReply("OK")
}

func (s *Server) dispatch(sess *session, args []string) func(*bufio.Writer) error {
	cmd := strings.ToUpper(args[0])
	switch cmd {
	case "PING":
		if len(sess.channels) > 0 {
			return arrayReply([]any{"pong", ""})
		}
		return simpleReply("PONG")
	case "SELECT", "CLIENT":
		return simpleReply("OK")
	case "INCR":
		if len(args) != 2 {
			return errorReply("ERR wrong number of arguments for 'incr'")
		}
		return integerReply(s.incr(args[1]))
	case "EXPIRE", "PEXPIRE":
		if len(args) != 3 {
			return errorReply(fmt.Sprintf("ERR wrong number of arguments for '%s'", strings.ToLower(cmd)))
		}
		amount, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return errorReply("ERR invalid expire time")
		}
		unit := time.Second
		if cmd == "PEXPIRE" {
			unit = time.Millisecond
		}
		return integerReply(s.expire(args[1], time.Duration(amount)*unit))
	case "TTL", "PTTL":
		if len(args) != 2 {
			return errorReply(fmt.Sprintf("ERR wrong number of arguments for '%s'", strings.ToLower(cmd)))
		}
		unit := time.Second
		if cmd == "PTTL" {
			unit = time.Millisecond
		}
		return integerReply(s.ttl(args[1], unit))
	case "DEL":
		return integerReply(s.del(args[1:]))
	case "PUBLISH":
		if len(args) != 3 {
			return errorReply("ERR wrong number of arguments for 'publish'")
		}
		return integerReply(s.publish(args[1], args[2]))
	case "SUBSCRIBE":
		if len(args) < 2 {
			return errorReply("ERR wrong number of arguments for 'subscribe'")
		}
		return s.subscribe(sess, args[1:])
	case "UNSUBSCRIBE":
		return s.unsubscribe(sess, args[1:])
	default:
		return errorReply(fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil || entry.expired(time.Now()) {
		entry = &kvEntry{}
		s.kv[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil || entry.expired(time.Now()) {
		return 0
	}
	entry.expiry = time.Now().Add(ttl)
	return 1
}

func (s *Server) ttl(key string, unit time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	now := time.Now()
	if entry == nil || entry.expired(now) {
		delete(s.kv, key)
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	return int64(entry.expiry.Sub(now) / unit)
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.kv[key]; ok {
			delete(s.kv, key)
			removed++
		}
	}
	return removed
}

func (s *Server) publish(channel, payload string) int64 {
	s.mu.Lock()
	targets := make([]*session, 0, len(s.subscribers[channel]))
	for sess := range s.subscribers[channel] {
		targets = append(targets, sess)
	}
	s.mu.Unlock()

	message := arrayReply([]any{"message", channel, payload})
	var delivered int64
	for _, sess := range targets {
		if err := sess.write(message); err == nil {
			delivered++
		}
	}
	return delivered
}

func (s *Server) subscribe(sess *session, channels []string) func(*bufio.Writer) error {
	s.mu.Lock()
	counts := make([]int64, len(channels))
	for i, channel := range channels {
		if s.subscribers[channel] == nil {
			s.subscribers[channel] = make(map[*session]struct{})
		}
		s.subscribers[channel][sess] = struct{}{}
		sess.channels[channel] = struct{}{}
		counts[i] = int64(len(sess.channels))
	}
	s.mu.Unlock()
	return func(w *bufio.Writer) error {
		for i, channel := range channels {
			if err := writeArrayRaw(w, []any{"subscribe", channel, counts[i]}); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *Server) unsubscribe(sess *session, channels []string) func(*bufio.Writer) error {
	s.mu.Lock()
	if len(channels) == 0 {
		for channel := range sess.channels {
			channels = append(channels, channel)
		}
	}
	counts := make([]int64, len(channels))
	for i, channel := range channels {
		delete(s.subscribers[channel], sess)
		delete(sess.channels, channel)
		counts[i] = int64(len(sess.channels))
	}
	s.mu.Unlock()
	return func(w *bufio.Writer) error {
		for i, channel := range channels {
			if err := writeArrayRaw(w, []any{"unsubscribe", channel, counts[i]}); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for channel := range sess.channels {
		delete(s.subscribers[channel], sess)
	}
	delete(s.sessions, sess)
}

func generateSelfSignedCert() ([]byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, tls.Certificate{}, err
	}
	return certPEM, cert, nil
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimRight(line, "\r\n"))
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func simpleReply(value string) func(*bufio.Writer) error {
	return func(w *bufio.Writer) error {
		_, err := fmt.Fprintf(w, "+%s\r\n", value)
		return err
	}
}

func errorReply(message string) func(*bufio.Writer) error {
	return func(w *bufio.Writer) error {
		_, err := fmt.Fprintf(w, "-%s\r\n", message)
		return err
	}
}

func integerReply(value int64) func(*bufio.Writer) error {
	return func(w *bufio.Writer) error {
		_, err := fmt.Fprintf(w, ":%d\r\n", value)
		return err
	}
}

func arrayReply(values []any) func(*bufio.Writer) error {
	return func(w *bufio.Writer) error {
		return writeArrayRaw(w, values)
	}
}

func writeArrayRaw(w *bufio.Writer, values []any) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		var err error
		switch v := value.(type) {
		case int64:
			_, err = fmt.Fprintf(w, ":%d\r\n", v)
		case []any:
			err = writeArrayRaw(w, v)
		default:
			str := fmt.Sprint(v)
			_, err = fmt.Fprintf(w, "$%d\r\n%s\r\n", len(str), str)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
