package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/dmap"
	"github.com/infodancer/dmaild/internal/dmtp"
	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/naming"
	"github.com/infodancer/dmaild/internal/secure"
)

const toolTimeout = 30 * time.Second

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	id := fs.String("id", "", "Component id the key pair is named after")
	keys := fs.String("keys", "keys", "Key directory; writes server/<id>.pem and client/<id>_pub.pem")
	bits := fs.Int("bits", secure.DefaultKeyBits, "RSA modulus size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	key, err := secure.GenerateKey(*bits)
	if err != nil {
		return err
	}
	privDir := filepath.Join(*keys, "server")
	pubDir := filepath.Join(*keys, "client")
	if err := secure.WriteKeyPair(privDir, pubDir, *id, key); err != nil {
		return err
	}
	fmt.Printf("wrote %s and %s\n",
		filepath.Join(privDir, *id+".pem"),
		filepath.Join(pubDir, *id+"_pub.pem"))
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	server := fs.String("server", "localhost:2525", "Transfer server address")
	from := fs.String("from", "", "Sender address")
	to := fs.String("to", "", "Comma separated recipient addresses")
	subject := fs.String("subject", "", "Message subject")
	body := fs.String("body", "", "Message body; read from stdin when empty")
	hmacKey := fs.String("hmac-key", "", "Key file used to attach an integrity hash")
	socks := fs.String("socks-proxy", "", "SOCKS5 proxy address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msg, err := buildMessage(*from, *to, *subject, *body, os.Stdin)
	if err != nil {
		return err
	}
	if *hmacKey != "" {
		h, err := secure.LoadHasher(*hmacKey)
		if err != nil {
			return err
		}
		msg.Hash = h.Sum(msg.IntegrityInput())
	}

	dialer, err := dmtp.NewDialer(*socks, 10*time.Second)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()
	if err := dmtp.Relay(ctx, dialer, *server, msg); err != nil {
		return err
	}
	fmt.Println("message accepted")
	return nil
}

// buildMessage assembles a message for send. An empty body is read from
// stdin; DMTP carries the body on one line, so multi-line input is refused.
func buildMessage(from, to, subject, body string, stdin io.Reader) (*mail.Message, error) {
	msg := &mail.Message{
		Sender:     from,
		Recipients: splitList(to),
		Subject:    subject,
		Body:       body,
	}
	if msg.Body == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		msg.Body = strings.TrimRight(string(data), "\r\n")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := msg.CheckSingleLine(); err != nil {
		return nil, err
	}
	return msg, nil
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	server := fs.String("server", "localhost:1430", "Mailbox server DMAP address")
	user := fs.String("user", "", "Mailbox user")
	password := fs.String("password", os.Getenv("DMAILD_PASSWORD"), "Password (default $DMAILD_PASSWORD)")
	keys := fs.String("keys", "", "Key directory; enables the secure upgrade when set")
	hmacKey := fs.String("hmac-key", "", "Key file used to verify integrity hashes")
	show := fs.String("show", "", "Print the message with this id instead of listing")
	del := fs.String("delete", "", "Delete the message with this id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()
	c, err := dmap.Dial(ctx, nil, *server)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if *keys != "" {
		ks := secure.NewKeyStore(filepath.Join(*keys, "server"), filepath.Join(*keys, "client"))
		defer func() { _ = ks.Close() }()
		if err := c.StartSecure(ks); err != nil {
			return err
		}
	}
	if err := c.Login(*user, *password); err != nil {
		return err
	}

	switch {
	case *show != "":
		msg, err := c.Show(*show)
		if err != nil {
			return err
		}
		fmt.Printf("From: %s\nTo: %s\nSubject: %s\n", msg.Sender, strings.Join(msg.Recipients, ", "), msg.Subject)
		if *hmacKey != "" {
			h, err := secure.LoadHasher(*hmacKey)
			if err != nil {
				return err
			}
			fmt.Printf("Integrity: %s\n", integrity(h, msg))
		}
		fmt.Printf("\n%s\n", msg.Body)
	case *del != "":
		if err := c.Delete(*del); err != nil {
			return err
		}
		fmt.Println("deleted", *del)
	default:
		list, err := c.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no messages")
		}
		for _, m := range list {
			fmt.Printf("%s\t%s\t%s\n", m.ID, m.Sender, m.Subject)
		}
	}
	return c.Quit()
}

func integrity(h *secure.Hasher, msg *mail.Message) string {
	switch {
	case msg.Hash == "":
		return "none"
	case h.Verify(msg.IntegrityInput(), msg.Hash):
		return "verified"
	default:
		return "MISMATCH"
	}
}

func runLookup(args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	registry := fs.String("registry", "localhost:5300", "Root nameserver address")
	rootID := fs.String("root-id", config.DefaultRootID, "Registration name of the root")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()
	root := naming.NewRemote(naming.Endpoint{Address: *registry, Name: *rootID})
	defer func() { _ = root.Close() }()

	if fs.NArg() == 0 {
		zones, err := root.Zones(ctx)
		if err != nil {
			return err
		}
		for _, z := range zones {
			fmt.Println("zone", z)
		}
		entries, err := root.Mailboxes(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println("mailbox", e.Label, e.Address)
		}
		return nil
	}

	resolver := naming.NewResolver(root, nil)
	for _, domain := range fs.Args() {
		d, err := resolver.Resolve(ctx, domain)
		if err != nil {
			return err
		}
		fmt.Println(d.Name, d.Address())
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
