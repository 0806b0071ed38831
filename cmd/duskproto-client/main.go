// Command duskproto-client dials a duskproto listener, completes the hello
// handshake, and echoes whatever it reads from stdin to the peer as
// reliable datagrams, printing anything it receives back.
package main

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/reliability"
	"github.com/duskproto/duskproto/pkg/transport"
	"github.com/duskproto/duskproto/pkg/wire"
	"github.com/spf13/pflag"
)

var opt struct {
	Help          bool
	Addr          string
	Handshake     string
	DialTimeoutMS int
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringVarP(&opt.Addr, "addr", "a", "127.0.0.1:7777", "Server address to dial")
	pflag.StringVar(&opt.Handshake, "handshake", "", "Payload to send with the hello handshake")
	pflag.IntVar(&opt.DialTimeoutMS, "dial-timeout-ms", 5000, "Handshake timeout in milliseconds")
}

func main() {
	pflag.Parse()
	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	remote, err := netip.ParseAddrPort(opt.Addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse addr: %v\n", err)
		os.Exit(1)
	}

	rt := reliability.DefaultTunables()
	kt := keepalive.DefaultTunables()

	client, err := transport.Dial(remote, []byte(opt.Handshake), time.Duration(opt.DialTimeoutMS)*time.Millisecond, rt, kt, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	client.OnDataReceived = func(buf *wire.Buffer, option wire.SendOption) {
		fmt.Printf("recv [%v]: %s\n", option, buf.Bytes())
	}
	client.OnDisconnected = func(_ *wire.Buffer, reason transport.DisconnectReason) {
		fmt.Printf("disconnected: %s\n", reason)
		os.Exit(0)
	}

	fmt.Fprintln(os.Stderr, "connected; type lines to send reliably, Ctrl-D to quit")

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if err := client.SendBytes(sc.Bytes(), wire.Reliable, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "error: send: %v\n", err)
			break
		}
	}

	client.DisconnectAndClose(nil)
}
