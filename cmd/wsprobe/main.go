// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
The wsprobe command is an interactive WebSocket console.

Usage:
  $ wsprobe [flags] <url>

Interactive commands in the console:

  text <message>
  bin <hex bytes>
  ping [data]
  close [code [reason]]
  quit
*/
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/trafficlab/relay/errclass"
	"github.com/trafficlab/relay/resources"
	"github.com/trafficlab/relay/websocket"
)

// Flags
var (
	flagInsecure = flag.Bool("insecure", false, "Whether to skip TLS cert validation")
	flagHeader   = flag.String("header", "", "Extra handshake header as Name:Value")
	flagVerbose  = flag.Bool("v", false, "Verbose protocol logging")
)

type command func(*probe, []string) error

var commands = map[string]command{
	"text":  (*probe).cmdText,
	"bin":   (*probe).cmdBin,
	"ping":  (*probe).cmdPing,
	"close": (*probe).cmdClose,
	"quit":  (*probe).cmdQuit,
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: wsprobe <url>\n\n")
	flag.PrintDefaults()
	os.Exit(1)
}

// probe is the app's state.
type probe struct {
	url    string
	engine *websocket.Engine
	rid    resources.ID
	term   *term.Terminal
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}

	app := &probe{url: flag.Arg(0)}
	if err := app.Main(); err != nil {
		if app.term != nil {
			app.logf("%v", err)
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
}

func (p *probe) Main() error {
	log := zap.NewNop()
	if *flagVerbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}
	p.engine = websocket.NewEngine(resources.NewTable(), log)

	opts := &websocket.DialOptions{}
	if *flagHeader != "" {
		name, value, ok := strings.Cut(*flagHeader, ":")
		if !ok {
			return fmt.Errorf("bad -header value %q", *flagHeader)
		}
		opts.Headers = http.Header{}
		opts.Headers.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if *flagInsecure {
		u, err := url.Parse(p.url)
		if err != nil {
			return err
		}
		opts.InsecureHosts = []string{u.Hostname()}
	}

	fmt.Fprintf(os.Stderr, "Connecting to %s ...\n", p.url)
	rid, err := p.engine.Dial(context.Background(), p.url, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %v (%s)", p.url, err, errclass.Classify(err))
	}
	p.rid = rid
	defer p.engine.CloseSocket(p.rid, 1000, "")

	oldState, err := term.MakeRaw(0)
	if err != nil {
		return err
	}
	defer term.Restore(0, oldState)

	var screen = struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}

	p.term = term.NewTerminal(screen, "wsprobe> ")
	p.term.AutoCompleteCallback = func(line string, pos int, key rune) (newLine string, newPos int, ok bool) {
		if key != '\t' {
			return
		}
		name, _, ok := lookupCommand(line)
		if !ok {
			return
		}
		return name, len(name), true
	}

	errc := make(chan error, 2)
	go func() { errc <- p.readEvents() }()
	go func() { errc <- p.readConsole() }()
	return <-errc
}

func (p *probe) logf(format string, args ...interface{}) {
	fmt.Fprintf(p.term, format+"\n", args...)
}

// readEvents prints incoming events until the socket closes.
func (p *probe) readEvents() error {
	for {
		ev, err := p.engine.NextEvent(p.rid)
		if err != nil {
			return fmt.Errorf("read: %v (%s)", err, errclass.Classify(err))
		}
		switch ev.Kind {
		case websocket.KindText:
			p.logf("<- text %q", ev.Payload)
		case websocket.KindBinary:
			p.logf("<- binary %s", hex.EncodeToString(ev.Payload))
		case websocket.KindPing:
			p.logf("<- ping %q", ev.Payload)
		case websocket.KindPong:
			p.logf("<- pong %q", ev.Payload)
		default:
			p.logf("<- close code=%d reason=%q", ev.Kind, ev.Payload)
			return nil
		}
	}
}

func (p *probe) readConsole() error {
	for {
		line, err := p.term.ReadLine()
		if err != nil {
			return fmt.Errorf("terminal.ReadLine: %v", err)
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		cmd, args := f[0], f[1:]
		if _, fn, ok := lookupCommand(cmd); ok {
			err = fn(p, args)
		} else {
			p.logf("Unknown command %q", line)
		}
		if err == errExitApp {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func lookupCommand(prefix string) (name string, c command, ok bool) {
	prefix = strings.ToLower(prefix)
	if c, ok = commands[prefix]; ok {
		return prefix, c, ok
	}

	for full, candidate := range commands {
		if strings.HasPrefix(full, prefix) {
			if c != nil {
				return "", nil, false // ambiguous
			}
			c = candidate
			name = full
		}
	}
	return name, c, c != nil
}

// errExitApp tells readConsole to return cleanly; it never reaches
// the user.
var errExitApp = errors.New("wsprobe: leaving console")

func (p *probe) cmdQuit(args []string) error {
	if len(args) > 0 {
		p.logf("the QUIT command takes no argument")
		return nil
	}
	return errExitApp
}

func (p *probe) cmdText(args []string) error {
	if len(args) == 0 {
		p.logf("usage: text <message>")
		return nil
	}
	return p.engine.SendText(p.rid, strings.Join(args, " "))
}

func (p *probe) cmdBin(args []string) error {
	if len(args) != 1 {
		p.logf("usage: bin <hex bytes>")
		return nil
	}
	b, err := hex.DecodeString(args[0])
	if err != nil {
		p.logf("bad hex: %v", err)
		return nil
	}
	return p.engine.SendBinary(p.rid, b)
}

func (p *probe) cmdPing(args []string) error {
	if len(args) > 1 {
		p.logf("invalid PING usage: only accepts 0 or 1 args")
		return nil
	}
	data := []byte("wsprobe")
	if len(args) == 1 {
		data = []byte(args[0])
	}
	return p.engine.Ping(p.rid, data)
}

func (p *probe) cmdClose(args []string) error {
	code := uint16(1000)
	reason := ""
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			p.logf("bad close code %q", args[0])
			return nil
		}
		code = uint16(n)
	}
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if err := p.engine.CloseSocket(p.rid, code, reason); err != nil {
		return err
	}
	return errExitApp
}
