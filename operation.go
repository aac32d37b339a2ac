package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/client"
	"github.com/ssau-fiit/cloudocs-sync/ops"
	"github.com/ssau-fiit/cloudocs-sync/session"
	"github.com/ssau-fiit/cloudocs-sync/streams"
)

type Remote struct {
	Server  string        `help:"Server base URL." default:"http://localhost:8080" env:"CLOUDOCS_SERVER"`
	Timeout time.Duration `help:"Time limit for the whole command." default:"30s"`
}

func (r Remote) dial(ctx context.Context, docID string) (*client.Conn, error) {
	u, err := socketURL(r.Server, docID)
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, u)
}

// socketURL maps http://host/prefix to ws://host/prefix/api/v1/documents/<id>/socket.
func socketURL(base, docID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + "/api/v1/documents/" + url.PathEscape(docID) + "/socket"
	if u.Path, err = url.PathUnescape(u.RawPath); err != nil {
		return "", fmt.Errorf("build socket url: %w", err)
	}
	return u.String(), nil
}

type CatCmd struct {
	Remote
	Doc    string `arg:"" help:"Document id."`
	Follow bool   `short:"f" help:"Keep printing the document as it changes, until interrupted."`
}

func (cmd *CatCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	conn, err := cmd.dial(ctx, cmd.Doc)
	if err != nil {
		return err
	}
	defer conn.Close()

	v, version, err := conn.Snapshot(ctx)
	if err != nil {
		return err
	}
	log.Debug().Int("version", version).Msg("snapshot")
	if err := printValue(v); err != nil {
		return err
	}
	if !cmd.Follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return follow(ctx, conn, v, version, printValue)
}

func printValue(v changes.Value) error {
	if text, ok := v.(changes.Text); ok {
		fmt.Println(string(text))
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// pollWait is how long one follow read waits on the server.
const pollWait = 25 * time.Second

// follow long-polls the log from version and calls show with the document
// after every batch of changes, until ctx is done.
func follow(ctx context.Context, conn *client.Conn, v changes.Value, version int, show func(changes.Value) error) error {
	doc := streams.NewDoc(v)
	sess := session.New(ops.NewTransformer(conn.Polling(pollWait)), doc.Stream, version)
	for {
		if err := sess.Pull(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if sess.Version() == version {
			continue
		}
		version = sess.Version()
		var err error
		if doc, err = doc.Catchup(); err != nil {
			return err
		}
		if err := show(doc.Value); err != nil {
			return err
		}
	}
}

type PutCmd struct {
	Remote
	Doc  string `arg:"" help:"Document id."`
	File string `arg:"" optional:"" help:"File with the new text. Reads stdin when omitted." type:"existingfile"`
}

func (cmd *PutCmd) Run() error {
	text, err := cmd.read()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	conn, err := cmd.dial(ctx, cmd.Doc)
	if err != nil {
		return err
	}
	defer conn.Close()

	version, err := put(ctx, conn, text)
	if err != nil {
		return err
	}
	log.Info().Str("doc", cmd.Doc).Int("version", version).Msg("document updated")
	return nil
}

func (cmd *PutCmd) read() (string, error) {
	var (
		data []byte
		err  error
	)
	if cmd.File == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(cmd.File)
	}
	if err != nil {
		return "", fmt.Errorf("read new text: %w", err)
	}
	return string(data), nil
}

// snapshotLog is an op log that also serves snapshots, like client.Conn.
type snapshotLog interface {
	ops.Log
	Snapshot(ctx context.Context) (changes.Value, int, error)
}

// put rewrites a text document to text as a set of splices against the
// server's snapshot, then syncs until the edit is acknowledged. Edits other
// clients make meanwhile are merged, not overwritten.
func put(ctx context.Context, l snapshotLog, text string) (int, error) {
	v, version, err := l.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	current, ok := v.(changes.Text)
	if !ok {
		return 0, fmt.Errorf("document is not text")
	}

	doc := streams.NewDoc(current)
	sess := session.New(ops.NewTransformer(l), doc.Stream, version)
	if _, err := doc.Edit(changes.DiffText(string(current), text)); err != nil {
		return 0, err
	}
	for {
		if err := sess.Sync(ctx); err != nil {
			return 0, err
		}
		if sess.Pending() == 0 {
			return sess.Version(), nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
