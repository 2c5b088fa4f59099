package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// upperCodec is a reversible test codec.
type upperCodec struct{}

func (upperCodec) Encode(line string) (string, error) { return "<" + line + ">", nil }
func (upperCodec) Decode(line string) (string, error) {
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return "", errors.New("not framed")
	}
	return line[1 : len(line)-1], nil
}

func TestReadLine(t *testing.T) {
	c := NewConn(strings.NewReader("begin\r\nfrom a@b\nlast"), io.Discard)

	want := []string{"begin", "from a@b", "last"}
	for _, w := range want {
		got, err := c.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() error = %v", err)
		}
		if got != w {
			t.Errorf("ReadLine() = %q, want %q", got, w)
		}
	}

	if _, err := c.ReadLine(); err != io.EOF {
		t.Errorf("ReadLine() at end error = %v, want io.EOF", err)
	}
}

func TestReadLineTooLong(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10) + "\n"
	c := NewConn(strings.NewReader(long), io.Discard)

	if _, err := c.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("ReadLine() error = %v, want ErrLineTooLong", err)
	}
}

func TestReadLineLongButAllowed(t *testing.T) {
	line := strings.Repeat("y", 10000)
	c := NewConn(strings.NewReader(line+"\r\n"), io.Discard)

	got, err := c.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if got != line {
		t.Errorf("ReadLine() returned %d bytes, want %d", len(got), len(line))
	}
}

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(strings.NewReader(""), &buf)

	if err := c.WriteLine("ok DMTP", "ok"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if buf.String() != "ok DMTP\r\nok\r\n" {
		t.Errorf("written = %q", buf.String())
	}
}

func TestSetCodec(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(strings.NewReader("plain\n<secret>\nbroken\n"), &buf)

	line, err := c.ReadLine()
	if err != nil || line != "plain" {
		t.Fatalf("ReadLine() = %q, %v", line, err)
	}

	c.SetCodec(upperCodec{})
	line, err = c.ReadLine()
	if err != nil || line != "secret" {
		t.Fatalf("ReadLine() after upgrade = %q, %v", line, err)
	}

	if _, err := c.ReadLine(); !errors.Is(err, ErrDecode) {
		t.Errorf("ReadLine() of unframed line error = %v, want ErrDecode", err)
	}

	if err := c.WriteLine("ok"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if buf.String() != "<ok>\r\n" {
		t.Errorf("written = %q, want encoded line", buf.String())
	}

	c.SetCodec(nil)
	if c.Codec() != Plain {
		t.Error("SetCodec(nil) should restore the plain codec")
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"ok", true},
		{"ok bye", true},
		{"ok no messages", true},
		{"error unknown user", true},
		{"okay", false},
		{"abcdefgh alice@earth.planet hello", false},
		{"from alice@earth.planet", false},
		{"errors happen", false},
	}

	for _, tt := range tests {
		if got := IsTerminal(tt.line); got != tt.want {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestReplyErrors(t *testing.T) {
	pe := Errorf("invalid email %s", "bob")
	if pe.Error() != "error invalid email bob" {
		t.Errorf("Errorf().Error() = %q", pe.Error())
	}

	v := Fatalf("protocol error")
	if v.Reply != "error protocol error" {
		t.Errorf("Fatalf().Reply = %q", v.Reply)
	}

	cause := errors.New("bad padding")
	a := Abort(cause)
	if a.Reply != "" {
		t.Errorf("Abort().Reply = %q, want empty", a.Reply)
	}
	if !errors.Is(a, cause) {
		t.Error("Abort() should unwrap to its cause")
	}
}
