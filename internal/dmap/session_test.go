package dmap

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/mailbox"
	"github.com/infodancer/dmaild/internal/metrics"
	"github.com/infodancer/dmaild/internal/secure"
	"github.com/infodancer/dmaild/internal/testutil"
	"github.com/infodancer/dmaild/internal/users"
	"github.com/infodancer/dmaild/internal/wire"
)

const componentID = "mailbox-earth-planet"

type mockCollector struct {
	metrics.NoopCollector
	secure       int
	authOK       int
	authFailed   int
	unknownCount int
}

func (m *mockCollector) SecureSessionEstablished() { m.secure++ }

func (m *mockCollector) AuthAttempt(success bool) {
	if success {
		m.authOK++
	} else {
		m.authFailed++
	}
}

func (m *mockCollector) CommandProcessed(protocol, command string) {
	if command == "unknown" {
		m.unknownCount++
	}
}

type fixture struct {
	store     *mailbox.MemoryStore
	keys      *secure.KeyStore
	collector *mockCollector
	cfg       Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dirs := testutil.SetupKeys(t, componentID)
	keys := secure.NewKeyStore(dirs.Private, dirs.Public)
	t.Cleanup(func() { _ = keys.Close() })

	f := &fixture{
		store:     mailbox.NewMemoryStore(),
		keys:      keys,
		collector: &mockCollector{},
	}
	f.cfg = Config{
		ComponentID: componentID,
		Keys:        keys,
		Users:       users.New(map[string]string{"alice": "testpass", "bob": "testpass"}),
		Store:       f.store,
		Collector:   f.collector,
	}
	return f
}

func (f *fixture) put(t *testing.T, user, sender, subject string) string {
	t.Helper()
	id, err := f.store.Put(context.Background(), user, &mail.Message{
		Sender:     sender,
		Recipients: []string{user + "@earth.planet"},
		Subject:    subject,
		Body:       "body of " + subject,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return id
}

// run steps a line and returns the reply lines, or the error reply with err.
func run(t *testing.T, s *Session, line string) ([]string, error) {
	t.Helper()
	reply, err := s.Step(context.Background(), line)
	if err != nil {
		var pe *wire.ProtocolError
		var v *wire.Violation
		switch {
		case errors.As(err, &pe):
			return []string{pe.Reply}, err
		case errors.As(err, &v):
			return []string{v.Reply}, err
		}
		return nil, err
	}
	return reply.Lines, nil
}

func mustRun(t *testing.T, s *Session, line string) []string {
	t.Helper()
	lines, err := run(t, s, line)
	if err != nil {
		t.Fatalf("%q: unexpected error %v", line, err)
	}
	return lines
}

func wantProtocolError(t *testing.T, s *Session, line, want string) {
	t.Helper()
	lines, err := run(t, s, line)
	var pe *wire.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("%q: error = %v, want protocol error", line, err)
	}
	if lines[0] != want {
		t.Errorf("%q: reply = %q, want %q", line, lines[0], want)
	}
}

func TestGreeting(t *testing.T) {
	s := NewSession(Config{})
	if g := s.Greeting(); g != "ok DMAP2.0" {
		t.Errorf("Greeting() = %q", g)
	}
	if s.State() != StateUnauthenticated {
		t.Errorf("state = %v", s.State())
	}
}

func TestMailboxCommandsRequireLogin(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)
	for _, line := range []string{"list", "show abcdefgh", "delete abcdefgh", "logout"} {
		wantProtocolError(t, s, line, "error not logged in")
	}
	if s.State() != StateUnauthenticated {
		t.Errorf("state = %v", s.State())
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"login", "error invalid input"},
		{"login alice", "error invalid input"},
		{"login alice testpass extra", "error invalid input"},
		{"login zaphod testpass", "error unknown user"},
		{"login alice wrong", "error wrong password"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			f := newFixture(t)
			s := NewSession(f.cfg)
			wantProtocolError(t, s, tt.line, tt.want)
		})
	}

	f := newFixture(t)
	s := NewSession(f.cfg)
	if lines := mustRun(t, s, "login alice testpass"); lines[0] != "ok" {
		t.Errorf("login reply = %v", lines)
	}
	if s.State() != StateAuthenticated || s.User() != "alice" {
		t.Errorf("state = %v user = %q", s.State(), s.User())
	}
	wantProtocolError(t, s, "login bob testpass", "error already logged in with user alice")
	if f.collector.authOK != 1 {
		t.Errorf("auth successes = %d", f.collector.authOK)
	}
}

func TestListShowDelete(t *testing.T) {
	f := newFixture(t)
	first := f.put(t, "alice", "bob@earth.planet", "first subject")
	second := f.put(t, "alice", "carol@mars.planet", "second")
	f.put(t, "bob", "alice@earth.planet", "not yours")

	s := NewSession(f.cfg)
	mustRun(t, s, "login alice testpass")

	lines := mustRun(t, s, "list")
	want := []string{
		first + " bob@earth.planet first subject",
		second + " carol@mars.planet second",
		"ok",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("list = %q, want %q", lines, want)
	}

	lines = mustRun(t, s, "show "+first)
	want = []string{
		"from bob@earth.planet",
		"to alice@earth.planet",
		"subject first subject",
		"data body of first subject",
		"ok",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("show = %q, want %q", lines, want)
	}
	mustRun(t, s, "show "+second)

	if lines := mustRun(t, s, "delete "+first); lines[0] != "ok" {
		t.Errorf("delete = %v", lines)
	}
	wantProtocolError(t, s, "show "+first, "error unknown message id")
	wantProtocolError(t, s, "delete "+first, "error unknown message id")

	lines = mustRun(t, s, "list")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], second+" ") {
		t.Errorf("list after delete = %q", lines)
	}
}

func TestShowIncludesHash(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.Put(context.Background(), "alice", &mail.Message{
		Sender: "bob@earth.planet", Recipients: []string{"alice@earth.planet", "carol@mars.planet"},
		Subject: "S", Body: "D", Hash: "dGFn",
	})
	if err != nil {
		t.Fatal(err)
	}

	s := NewSession(f.cfg)
	mustRun(t, s, "login alice testpass")
	lines := mustRun(t, s, "show "+id)
	if lines[1] != "to alice@earth.planet,carol@mars.planet" || lines[4] != "hash dGFn" || lines[5] != "ok" {
		t.Errorf("show = %q", lines)
	}
}

func TestShowAndDeleteArity(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)
	mustRun(t, s, "login alice testpass")
	wantProtocolError(t, s, "show", "error invalid input")
	wantProtocolError(t, s, "delete a b", "error invalid input")
}

func TestEmptyMailbox(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)
	mustRun(t, s, "login bob testpass")
	lines := mustRun(t, s, "list")
	if len(lines) != 1 || lines[0] != "ok no messages" {
		t.Errorf("list = %q", lines)
	}
}

func TestOtherUsersMessagesAreInvisible(t *testing.T) {
	f := newFixture(t)
	id := f.put(t, "alice", "bob@earth.planet", "private")

	s := NewSession(f.cfg)
	mustRun(t, s, "login bob testpass")
	wantProtocolError(t, s, "show "+id, "error unknown message id")
}

func TestLogoutReturnsToUnauthenticated(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)
	mustRun(t, s, "login alice testpass")
	mustRun(t, s, "logout")
	if s.State() != StateUnauthenticated || s.User() != "" {
		t.Errorf("state = %v user = %q", s.State(), s.User())
	}
	wantProtocolError(t, s, "list", "error not logged in")
	mustRun(t, s, "login bob testpass")
}

func TestUnknownCommandTerminates(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)
	for _, line := range []string{"begin", "lists", "hello world"} {
		lines, err := run(t, s, line)
		var v *wire.Violation
		if !errors.As(err, &v) || lines[0] != "error protocol error" {
			t.Errorf("%q: %q, %v", line, lines, err)
		}
	}
	if f.collector.unknownCount != 3 {
		t.Errorf("unknown commands counted = %d", f.collector.unknownCount)
	}
}

func TestQuit(t *testing.T) {
	s := NewSession(Config{})
	reply, err := s.Step(context.Background(), "quit")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Close || reply.Lines[0] != "ok bye" {
		t.Errorf("quit = %+v", reply)
	}
}

// handshake drives the upgrade from the client side against s and returns
// the client's codec.
func handshake(t *testing.T, f *fixture, s *Session) *secure.Codec {
	t.Helper()

	lines := mustRun(t, s, "startsecure")
	if lines[0] != "ok "+componentID {
		t.Fatalf("startsecure = %q", lines)
	}

	challenge, err := secure.NewChallenge()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := f.keys.PublicKey(componentID)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := secure.Encrypt(pub, []byte(challenge.String()))
	if err != nil {
		t.Fatal(err)
	}

	reply, err := s.Step(context.Background(), base64.StdEncoding.EncodeToString(ct))
	if err != nil {
		t.Fatalf("challenge step error = %v", err)
	}
	if reply.Upgrade == nil || len(reply.Lines) != 1 {
		t.Fatalf("challenge reply = %+v", reply)
	}
	if s.State() != StateChallengeIssued {
		t.Errorf("state = %v", s.State())
	}

	// The reply travels under the server codec and must open to the nonce.
	onWire, err := reply.Upgrade.Encode(reply.Lines[0])
	if err != nil {
		t.Fatal(err)
	}
	clientCipher, err := challenge.Cipher(secure.RoleClient)
	if err != nil {
		t.Fatal(err)
	}
	client := secure.NewCodec(clientCipher)
	echoed, err := client.Decode(onWire)
	if err != nil {
		t.Fatal(err)
	}
	if !challenge.VerifyResponse(echoed) {
		t.Fatalf("echoed %q, want %q", echoed, challenge.Response())
	}

	if reply := mustRun(t, s, "ok"); len(reply) != 0 {
		t.Errorf("confirmation produced a reply: %q", reply)
	}
	return client
}

func TestSecureUpgrade(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)
	handshake(t, f, s)

	if !s.Secure() || s.State() != StateUnauthenticated {
		t.Errorf("secure = %v state = %v", s.Secure(), s.State())
	}
	if f.collector.secure != 1 {
		t.Errorf("secure sessions counted = %d", f.collector.secure)
	}

	wantProtocolError(t, s, "startsecure", "error protocol error")
	mustRun(t, s, "login alice testpass")
	mustRun(t, s, "logout")
	if !s.Secure() {
		t.Error("logout dropped the secure flag")
	}
}

func TestUpgradeAbortsOnBadChallenge(t *testing.T) {
	f := newFixture(t)

	tests := map[string]string{
		"not base64":     "!!!",
		"not a key blob": base64.StdEncoding.EncodeToString([]byte("ok abc")),
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewSession(f.cfg)
			mustRun(t, s, "startsecure")
			_, err := s.Step(context.Background(), line)
			var v *wire.Violation
			if !errors.As(err, &v) || v.Reply != "" {
				t.Errorf("error = %v, want silent violation", err)
			}
		})
	}
}

func TestUpgradeAbortsOnMalformedPlaintext(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)
	mustRun(t, s, "startsecure")

	pub, err := f.keys.PublicKey(componentID)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := secure.Encrypt(pub, []byte("ok too few"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Step(context.Background(), base64.StdEncoding.EncodeToString(ct))
	if !errors.Is(err, secure.ErrMalformedChallenge) {
		t.Errorf("error = %v, want malformed challenge", err)
	}
}

func TestUpgradeAbortsOnBadConfirmation(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cfg)

	mustRun(t, s, "startsecure")
	challenge, _ := secure.NewChallenge()
	pub, _ := f.keys.PublicKey(componentID)
	ct, _ := secure.Encrypt(pub, []byte(challenge.String()))
	mustRun(t, s, base64.StdEncoding.EncodeToString(ct))

	_, err := s.Step(context.Background(), "list")
	var v *wire.Violation
	if !errors.As(err, &v) {
		t.Fatalf("error = %v, want violation", err)
	}
	if s.Secure() {
		t.Error("session marked secure")
	}
}

func TestStartSecureWithoutKeys(t *testing.T) {
	s := NewSession(Config{})
	wantProtocolError(t, s, "startsecure", "error secure sessions not available")
	if s.State() != StateUnauthenticated {
		t.Errorf("state = %v", s.State())
	}
}
