// Command wormhole is a small demonstration client for the core protocol
// engine: it exchanges short text messages between two peers over a
// rendezvous-relayed, PAKE-authenticated, end-to-end encrypted wormhole.
//
// It deliberately does not move files: transit-style transport belongs to a
// layer riding on top of this core, out of scope here.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"

	"rsc.io/qr"

	"wormhole.dev/core/wormhole"
)

var subcmds = map[string]func(args ...string){
	"send":    send,
	"receive": receive,
}

var (
	relayURL = flag.String("relay", wormhole.DefaultURL, "rendezvous relay to use")
	appID    = flag.String("appid", wormhole.DefaultAppID, "application id to bind to")
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "wormhole moves short text messages between two terminals.\n\n")
	fmt.Fprintf(w, "usage:\n\n")
	fmt.Fprintf(w, "  %s [flags] <command> [arguments]\n\n", os.Args[0])
	fmt.Fprintf(w, "commands:\n")
	for key := range subcmds {
		fmt.Fprintf(w, "  %s\n", key)
	}
	fmt.Fprintf(w, "\nflags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	cmd, ok := subcmds[flag.Arg(0)]
	if !ok {
		flag.Usage()
		os.Exit(2)
	}
	cmd(flag.Args()...)
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(flag.CommandLine.Output(), format+"\n", v...)
	os.Exit(1)
}

// newClient starts a session, either joining code (if non-empty) or
// allocating a fresh one of the given length and printing it.
func newClient(ctx context.Context, code string, length int) *wormhole.Client {
	c, err := wormhole.New(wormhole.WithURL(*relayURL), wormhole.WithAppID(*appID))
	if err != nil {
		fatalf("could not create client: %v", err)
	}
	c.Start(ctx)
	if code != "" {
		c.SetCode(code)
	} else {
		c.AllocateCode(length)
	}
	for ev := range c.Events {
		switch ev.Kind {
		case wormhole.GotCode:
			if code == "" {
				printcode(ev.Code)
			}
		case wormhole.Verifier:
			return c
		case wormhole.Closed:
			fatalf("connection closed before key exchange completed (mood: %s)", ev.Mood)
		case wormhole.Error:
			fatalf("%v", ev.Err)
		}
	}
	fatalf("connection closed before key exchange completed")
	return nil
}

func receive(args ...string) {
	set := flag.NewFlagSet(args[0], flag.ExitOnError)
	set.Usage = func() {
		fmt.Fprintf(set.Output(), "receive text lines\n\n")
		fmt.Fprintf(set.Output(), "usage: %s %s [code]\n\n", os.Args[0], args[0])
		set.PrintDefaults()
	}
	length := set.Int("length", wormhole.DefaultCodeLength, "length of generated code, if generating")
	set.Parse(args[1:])
	if set.NArg() > 1 {
		set.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	c := newClient(ctx, set.Arg(0), *length)
	for ev := range c.Events {
		switch ev.Kind {
		case wormhole.Message:
			fmt.Fprintf(set.Output(), "%s\n", ev.Message)
		case wormhole.Closed:
			return
		case wormhole.Error:
			fatalf("%v", ev.Err)
		}
	}
}

func send(args ...string) {
	set := flag.NewFlagSet(args[0], flag.ExitOnError)
	set.Usage = func() {
		fmt.Fprintf(set.Output(), "send text lines from stdin\n\n")
		fmt.Fprintf(set.Output(), "usage: %s %s [flags]\n\n", os.Args[0], args[0])
		set.PrintDefaults()
	}
	length := set.Int("length", wormhole.DefaultCodeLength, "length of generated code")
	code := set.String("code", "", "use a wormhole code instead of generating one")
	set.Parse(args[1:])

	ctx := context.Background()
	c := newClient(ctx, *code, *length)

	done := make(chan struct{})
	go func() {
		for ev := range c.Events {
			if ev.Kind == wormhole.Closed {
				close(done)
				return
			}
			if ev.Kind == wormhole.Error {
				fatalf("%v", ev.Err)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		c.Send(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		fatalf("could not read stdin: %v", err)
	}
	c.Close("happy")
	<-done
}

func printcode(code string) {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "%s\n", code)
	u, err := url.Parse(*relayURL)
	if err != nil {
		return
	}
	u.Fragment = code
	qrcode, err := qr.Encode(u.String(), qr.L)
	if err != nil {
		return
	}
	for x := 0; x < qrcode.Size; x++ {
		fmt.Fprintf(out, "█")
	}
	fmt.Fprintf(out, "████████\n")
	for x := 0; x < qrcode.Size; x++ {
		fmt.Fprintf(out, "█")
	}
	fmt.Fprintf(out, "████████\n")
	for y := 0; y < qrcode.Size; y += 2 {
		fmt.Fprintf(out, "████")
		for x := 0; x < qrcode.Size; x++ {
			switch {
			case qrcode.Black(x, y) && qrcode.Black(x, y+1):
				fmt.Fprintf(out, " ")
			case qrcode.Black(x, y):
				fmt.Fprintf(out, "▄")
			case qrcode.Black(x, y+1):
				fmt.Fprintf(out, "▀")
			default:
				fmt.Fprintf(out, "█")
			}
		}
		fmt.Fprintf(out, "████\n")
	}
	for x := 0; x < qrcode.Size; x++ {
		fmt.Fprintf(out, "█")
	}
	fmt.Fprintf(out, "████████\n")
	for x := 0; x < qrcode.Size; x++ {
		fmt.Fprintf(out, "█")
	}
	fmt.Fprintf(out, "████████\n")
	fmt.Fprintf(out, "%s\n", u.String())
}
