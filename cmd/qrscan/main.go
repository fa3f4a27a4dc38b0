// Command qrscan is the scanner-station client: it opens a document, reads
// QR scans from a keyboard-wedge scanner on stdin and submits the batch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"qrtrace/internal/client"
	"qrtrace/internal/logging"
	"qrtrace/internal/traceability"
)

type args struct {
	Server       string `arg:"-s,--server,env:QRSCAN_SERVER" default:"http://localhost:9000" help:"qrtrace API address"`
	Key          string `arg:"-k,--key,env:QRSCAN_STATION_KEY" help:"station key"`
	Document     string `arg:"-d,--document" help:"downstream document to edit"`
	SourceOrder  string `arg:"-o,--source-order" help:"create a new document from this source order"`
	DocumentType string `arg:"-t,--type,env:QRSCAN_DOCUMENT_TYPE" default:"fulfillment"`
	LogLevel     string `arg:"--log-level,env:QRSCAN_LOG_LEVEL" default:"warn"`
}

func (args) Description() string {
	return "Scan completion QR codes into a fulfillment. Commands: " +
		client.CmdStatus + " " + client.CmdReset + " " + client.CmdSubmit + " " + client.CmdQuit
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if (a.Document == "") == (a.SourceOrder == "") {
		p.Fail("exactly one of --document or --source-order is required")
	}
	logging.SetLoggerLevel(a.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := &client.Station{
		API: client.New(a.Server, a.Key),
		Target: traceability.Target{
			DownstreamID:  a.Document,
			SourceOrderID: a.SourceOrder,
			DocumentType:  a.DocumentType,
		},
		Out: os.Stdout,
	}
	if err := st.Open(ctx); err != nil {
		logrus.Fatalf("open document: %v", err)
	}
	fmt.Println("Ready to scan.")
	if err := st.Run(ctx, os.Stdin); err != nil {
		logrus.Fatalf("scan session: %v", err)
	}
}
