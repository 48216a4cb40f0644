// Command peerd runs a long-lived peer that seeks a local partner:
// it binds ephemeral message/file acceptors, prints the endpoints a
// peerctl should dial, and echoes every received text message back
// with a timestamp appended.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samharper/streampeer/pkg/conn"
	"github.com/samharper/streampeer/pkg/peer"
	"github.com/samharper/streampeer/pkg/wire"
)

const echoType wire.MessageType = 1

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var tcp = flag.Bool("tcp", false, "use TCP instead of the default TLS")
	var global = flag.Bool("global", false, "bind on all interfaces instead of discovering a private IPv4")
	var certDir = flag.String("certs", "", "certificate directory; default ./certificates, generated on first run")
	var downloadDir = flag.String("download-dir", "downloads", "directory received files are written to")
	var quiet = flag.Bool("quiet", false, "do not log each received message")

	flag.Parse()

	cfg := peer.NewConfig()
	if *tcp {
		cfg.Transport = peer.TCP
	} else {
		cfg.Transport = peer.TLS
	}
	if *global {
		cfg.ConnectionMode = peer.GlobalNetwork
	}
	cfg.CertDir = *certDir
	cfg.Conn.DownloadDir = *downloadDir

	p := peer.New(*cfg)
	defer p.Close()

	p.AddHandler(echoType, func(pkg *wire.Package) {
		s, err := pkg.ExtractString()
		if err != nil {
			log.Printf("peerd: malformed message: %v", err)
			return
		}
		if !*quiet {
			log.Printf("peerd: received %q", s)
		}
		reply := fmt.Sprintf("%s (echoed at %s)", s, time.Now().Format(time.RFC3339))
		if err := p.Send(echoType, reply); err != nil {
			log.Printf("peerd: reply send failed: %v", err)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	advertised := make(chan conn.Endpoints, 1)
	go func() {
		err := p.SeekLocal(func(ep conn.Endpoints) {
			fmt.Printf("peerd: listening at %s message_port=%d file_port=%d\n", ep.Addr, ep.MessagePort, ep.FilePort)
			advertised <- ep
		})
		if err != nil {
			log.Fatalf("peerd: SeekLocal: %v", err)
		}
	}()

	select {
	case <-advertised:
		log.Printf("peerd: endpoints advertised, id=%s", p.ID())
	case <-sigCh:
		return
	}

	<-sigCh
	log.Printf("peerd: shutting down")
}
