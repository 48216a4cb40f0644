// Command peerctl dials a peerd instance, optionally requests a file
// from it, and reports round-trip echo latency quantiles via a t-digest,
// matching the stats the reference client prints after a call loop.
package main

import (
	"flag"
	"log"
	"net/netip"
	"os"
	"time"

	tdigest "github.com/caio/go-tdigest"

	"github.com/samharper/streampeer/pkg/conn"
	"github.com/samharper/streampeer/pkg/peer"
	"github.com/samharper/streampeer/pkg/progress"
	"github.com/samharper/streampeer/pkg/wire"
)

const echoType wire.MessageType = 1

func panicOn(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var dest = flag.String("s", "127.0.0.1", "peerd host to dial")
	var msgPort = flag.Uint("msg-port", 0, "peerd's advertised message port")
	var filePort = flag.Uint("file-port", 0, "peerd's advertised file port")
	var tcp = flag.Bool("tcp", false, "use TCP instead of the default TLS")
	var certDir = flag.String("certs", "", "certificate directory; default ./certificates")
	var downloadDir = flag.String("download-dir", "downloads", "directory received files are written to")
	var n = flag.Int("n", 1, "number of echo round trips to run")
	var sendFile = flag.String("send-file", "", "path of a file on peerd's host to request via RequestFile; its size is read locally for the progress display")
	var wait = flag.Duration("wait", 10*time.Second, "time to wait for each echo reply")

	flag.Parse()

	if *msgPort == 0 || *filePort == 0 {
		log.Fatal("peerctl: -msg-port and -file-port are required (see peerd's startup log)")
	}

	cfg := peer.NewConfig()
	if *tcp {
		cfg.Transport = peer.TCP
	} else {
		cfg.Transport = peer.TLS
	}
	cfg.CertDir = *certDir
	cfg.Conn.DownloadDir = *downloadDir

	p := peer.New(*cfg)
	defer p.Close()

	replies := make(chan string, 8)
	p.AddHandler(echoType, func(pkg *wire.Package) {
		s, err := pkg.ExtractString()
		if err != nil {
			log.Printf("peerctl: malformed reply: %v", err)
			return
		}
		replies <- s
	})

	addr, err := netip.ParseAddr(*dest)
	panicOn(err)

	if err := p.Connect(addr, conn.Endpoints{MessagePort: uint16(*msgPort), FilePort: uint16(*filePort)}); err != nil {
		log.Fatalf("peerctl: Connect: %v", err)
	}
	log.Printf("peerctl: connected to %s, id=%s", *dest, p.ID())

	td, err := tdigest.New(tdigest.Compression(100))
	panicOn(err)

	slowest := -1.0
	for i := 0; i < *n; i++ {
		t0 := time.Now()
		if err := p.Send(echoType, "peerctl says hello"); err != nil {
			log.Fatalf("peerctl: Send: %v", err)
		}
		select {
		case reply := <-replies:
			elap := float64(time.Since(t0))
			panicOn(td.Add(elap))
			if elap > slowest {
				slowest = elap
			}
			log.Printf("peerctl: round trip %d: %q", i, reply)
		case <-time.After(*wait):
			log.Fatalf("peerctl: timed out waiting for echo %d", i)
		}
	}

	if *n > 1 {
		log.Printf("peerctl: %d calls done; slowest=%vns q999=%vns q99=%vns q50=%vns",
			*n, slowest, td.Quantile(0.999), td.Quantile(0.99), td.Quantile(0.50))
	}

	if *sendFile != "" {
		info, err := os.Stat(*sendFile)
		panicOn(err)
		requestID, err := p.RequestFile(*sendFile, "peerctl-download.bin")
		if err != nil {
			log.Fatalf("peerctl: RequestFile: %v", err)
		}
		log.Printf("peerctl: requested file transfer, request_id=%d", requestID)
		meter := progress.NewMeter(*sendFile, info.Size())
		meter.Update(info.Size())
		meter.Done()
	}
}
