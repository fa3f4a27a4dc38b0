package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"qrtrace/internal/models"
	"qrtrace/internal/traceability"
)

// Station commands. Any other non-empty line is treated as scanned text.
const (
	CmdSubmit = ":submit"
	CmdReset  = ":reset"
	CmdStatus = ":status"
	CmdQuit   = ":quit"
)

// Station runs a scan session for one document at a scanner station.
type Station struct {
	API    *Client
	Target traceability.Target
	Out    io.Writer

	sess *traceability.Session
	doc  *models.DownstreamDocument
}

// Open loads the target document, creating it from the source order when no
// document id is given, and resumes any scans persisted on it.
func (st *Station) Open(ctx context.Context) error {
	var (
		doc *models.DownstreamDocument
		err error
	)
	switch {
	case st.Target.DownstreamID != "":
		doc, err = st.API.GetDocument(ctx, st.Target.DownstreamID, st.Target.DocumentType)
	case st.Target.SourceOrderID != "":
		doc, err = st.API.CreateDocument(ctx, st.Target.SourceOrderID, st.Target.DocumentType)
	default:
		return errors.New("a document id or source order id is required")
	}
	if err != nil {
		return err
	}
	st.Target.DownstreamID = doc.ID
	st.doc = doc
	st.sess = traceability.NewSession(uuid.NewString(), st.Target, doc, st.API)
	st.sess.Rehydrate(doc.ScanRefs)

	fmt.Fprintf(st.Out, "Document %s (%s) from order %s, %d line(s)\n", doc.ID, doc.Type, doc.SourceOrderID, len(doc.Lines))
	if n := len(st.sess.CompletionIDs()); n > 0 {
		fmt.Fprintf(st.Out, "Resumed %d earlier scan(s)\n", n)
	}
	return nil
}

// Scan feeds one scanned text to the session and persists accepted scans.
func (st *Station) Scan(ctx context.Context, text string) traceability.ScanOutcome {
	out := st.sess.OnScan(ctx, text)
	if out.Kind == traceability.OutcomeScanned {
		if err := st.API.SaveScanRefs(ctx, st.doc.ID, st.sess.CompletionIDs()); err != nil {
			logger.WithField("document", st.doc.ID).Warnf("persist scan refs: %v", err)
		}
	}
	fmt.Fprintln(st.Out, out.Message)
	return out
}

// Submit sends the batch. A rejected batch reopens the session with its
// scans intact so the operator can fix the cause and resubmit.
func (st *Station) Submit(ctx context.Context) (traceability.SubmitResult, error) {
	req, err := st.sess.Submit()
	if err != nil {
		fmt.Fprintln(st.Out, traceability.OperatorMessage(err))
		return traceability.SubmitResult{}, err
	}
	res, err := st.API.Process(ctx, req)
	if err != nil || !res.Success {
		st.reopen(req.CompletionIDs)
		if err != nil {
			fmt.Fprintf(st.Out, "Submit failed: %v\n", err)
			return res, err
		}
		fmt.Fprintf(st.Out, "Submit rejected: %s\n", res.Error)
		return res, nil
	}
	fmt.Fprintf(st.Out, "Saved document %s with %d completion(s)\n", res.SavedDocumentID, len(res.Matched))
	for _, s := range res.Skipped {
		fmt.Fprintf(st.Out, "  skipped %s: %s\n", s.CompletionID, s.Reason)
	}
	return res, nil
}

// Reset discards the session's scans and reloads the document.
func (st *Station) Reset(ctx context.Context) error {
	if err := st.API.SaveScanRefs(ctx, st.doc.ID, nil); err != nil {
		return err
	}
	doc, err := st.API.GetDocument(ctx, st.doc.ID, st.Target.DocumentType)
	if err != nil {
		return err
	}
	st.doc = doc
	st.sess.SetDocument(doc)
	st.sess.Reset()
	fmt.Fprintln(st.Out, "Session cleared")
	return nil
}

// Session exposes the underlying scan session.
func (st *Station) Session() *traceability.Session { return st.sess }

func (st *Station) reopen(ids []string) {
	st.sess.Reset()
	st.sess.Rehydrate(ids)
}

// Run reads scans and commands from in, one per line, until EOF, :quit, or
// a successful submit.
func (st *Station) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case CmdQuit:
			return nil
		case CmdStatus:
			fmt.Fprintf(st.Out, "%s: %d scan(s) [%s]\n", st.sess.State(), len(st.sess.CompletionIDs()), strings.Join(st.sess.CompletionIDs(), ", "))
		case CmdReset:
			if err := st.Reset(ctx); err != nil {
				fmt.Fprintf(st.Out, "Reset failed: %v\n", err)
			}
		case CmdSubmit:
			res, err := st.Submit(ctx)
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return err
			}
			if res.Success {
				return nil
			}
		default:
			out := st.Scan(ctx, line)
			logger.WithFields(logrus.Fields{"outcome": out.Kind, "completion": out.CompletionID}).Debug("scan")
		}
	}
	return sc.Err()
}
