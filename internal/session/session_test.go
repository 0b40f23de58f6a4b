package session

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/svnbridge/svnbridged/internal/auth"
	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/locktable"
	"github.com/svnbridge/svnbridged/internal/logging"
	"github.com/svnbridge/svnbridged/internal/reportdriver"
	"github.com/svnbridge/svnbridged/internal/revindex"
	"github.com/svnbridge/svnbridged/internal/wire"
)

// newTestRepository builds a Repository over an in-memory object store with
// one empty initial commit already on refs/heads/main, matching the layout
// cmd/svnbridged's init-repo subcommand writes to disk.
func newTestRepository(t *testing.T, name string, anonymousRead bool) *Repository {
	t.Helper()
	store := gitobj.NewMemStore()
	root, err := gitobj.WriteTree(store, &gitobj.TreeObj{})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	commitHash, err := gitobj.WriteCommit(store, &gitobj.CommitObj{
		TreeHash:  root,
		Author:    "tester",
		Committer: "tester",
		Timestamp: time.Now().Unix(),
		Message:   "initial commit",
	})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}

	gitDirPath := t.TempDir()
	refPath := filepath.Join(gitDirPath, "refs", "heads", "main")
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		t.Fatalf("mkdir refs: %v", err)
	}
	if err := os.WriteFile(refPath, []byte(string(commitHash)+"\n"), 0o644); err != nil {
		t.Fatalf("write ref: %v", err)
	}
	gitDir := revindex.NewGitDir(gitDirPath)

	metaDir := t.TempDir()
	revs, err := revindex.Open(metaDir)
	if err != nil {
		t.Fatalf("revindex.Open: %v", err)
	}
	locks, err := locktable.Open(metaDir)
	if err != nil {
		t.Fatalf("locktable.Open: %v", err)
	}

	repo, err := OpenRepository(name, store, revs, gitDir, locks, "refs/heads/main", anonymousRead)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	return repo
}

// testClient drives the client side of a svn:// connection over a net.Pipe,
// speaking the wire tuple grammar directly rather than through a real SVN
// client library.
type testClient struct {
	t *testing.T
	r *wire.Reader
	w *wire.Writer
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	return &testClient{t: t, r: wire.NewReader(conn), w: wire.NewWriter(conn)}
}

// greetAnonymous performs the greeting and ANONYMOUS auth round, returning
// the repository UUID from the open-repository response.
func (tc *testClient) greetAnonymous(targetURL string) {
	tc.t.Helper()
	if _, err := tc.r.ReadList(); err != nil {
		tc.t.Fatalf("read server greeting: %v", err)
	}
	if err := wire.WriteList(tc.w, func(w *wire.Writer) error {
		if err := w.Number(2); err != nil {
			return err
		}
		if err := wire.WriteList(w, func(w *wire.Writer) error { return nil }); err != nil {
			return err
		}
		return w.String([]byte(targetURL))
	}); err != nil {
		tc.t.Fatalf("write client greeting: %v", err)
	}

	if _, err := tc.r.ReadList(); err != nil {
		tc.t.Fatalf("read mech list: %v", err)
	}
	if err := wire.WriteList(tc.w, func(w *wire.Writer) error {
		return w.Word("ANONYMOUS")
	}); err != nil {
		tc.t.Fatalf("write mech choice: %v", err)
	}

	if _, err := tc.r.ReadList(); err != nil {
		tc.t.Fatalf("read auth success: %v", err)
	}
	if _, err := tc.r.ReadList(); err != nil {
		tc.t.Fatalf("read open-repository response: %v", err)
	}
}

func (tc *testClient) sendCommand(word string, fn func(*wire.Writer) error) {
	tc.t.Helper()
	if err := wire.WriteList(tc.w, func(w *wire.Writer) error {
		if err := w.Word(word); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error {
			if fn == nil {
				return nil
			}
			return fn(w)
		})
	}); err != nil {
		tc.t.Fatalf("send command %q: %v", word, err)
	}
}

func (tc *testClient) readResponse() []wire.Item {
	tc.t.Helper()
	items, err := tc.r.ReadList()
	if err != nil {
		tc.t.Fatalf("read response: %v", err)
	}
	return items
}

func newTestServer(t *testing.T, repo *Repository) (*Server, net.Conn) {
	t.Helper()
	authn := auth.NewChainAuthenticator(true)
	srv := NewServer(authn, nil, logging.New(os.Stderr))
	srv.AddRepository(repo)

	clientConn, serverConn := net.Pipe()
	go srv.handleConn(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return srv, clientConn
}

func TestGreetAuthAndCheckPath(t *testing.T) {
	repo := newTestRepository(t, "demo", true)
	_, clientConn := newTestServer(t, repo)
	tc := newTestClient(t, clientConn)

	tc.greetAnonymous("svn://svnbridged/demo")

	tc.sendCommand("check-path", func(w *wire.Writer) error {
		if err := w.String([]byte("/")); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error { return nil })
	})
	resp := tc.readResponse()
	if len(resp) < 1 || resp[0].Kind != wire.KindWord || resp[0].Word != "success" {
		t.Fatalf("check-path response: got %+v", resp)
	}
}

func TestGetLatestRevAfterEmptyInit(t *testing.T) {
	repo := newTestRepository(t, "demo", true)
	_, clientConn := newTestServer(t, repo)
	tc := newTestClient(t, clientConn)

	tc.greetAnonymous("svn://svnbridged/demo")

	tc.sendCommand("get-latest-rev", nil)
	resp := tc.readResponse()
	if len(resp) < 2 || resp[0].Word != "success" {
		t.Fatalf("get-latest-rev response: got %+v", resp)
	}
}

// TestCommitRoundTrip drives a full commit editor conversation adding one
// file, then confirms the new revision is visible via get-file.
func TestCommitRoundTrip(t *testing.T) {
	repo := newTestRepository(t, "demo", true)
	_, clientConn := newTestServer(t, repo)
	tc := newTestClient(t, clientConn)

	tc.greetAnonymous("svn://svnbridged/demo")

	tc.sendCommand("commit", func(w *wire.Writer) error { return w.String([]byte("add readme")) })
	if resp := tc.readResponse(); len(resp) < 1 || resp[0].Word != "success" {
		t.Fatalf("commit open response: got %+v", resp)
	}

	tc.sendCommand("open-root", nil)
	tc.readResponse()

	tc.sendCommand("add-file", func(w *wire.Writer) error {
		if err := w.String([]byte("/readme.txt")); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error { return nil })
	})
	tc.readResponse()

	tc.sendCommand("apply-textdelta", func(w *wire.Writer) error {
		if err := w.String([]byte("/readme.txt")); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error { return nil })
	})
	tc.readResponse()

	delta := reportdriver.EncodeSVNDiffStream(reportdriver.EncodeSVNDiff(nil, []byte("hello\n")))
	tc.sendCommand("textdelta-chunk", func(w *wire.Writer) error {
		if err := w.String([]byte("/readme.txt")); err != nil {
			return err
		}
		return w.Bytes(delta)
	})
	tc.readResponse()

	tc.sendCommand("textdelta-end", func(w *wire.Writer) error { return w.String([]byte("/readme.txt")) })
	tc.readResponse()

	tc.sendCommand("close-file", func(w *wire.Writer) error {
		if err := w.String([]byte("/readme.txt")); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error { return nil })
	})
	tc.readResponse()

	tc.sendCommand("close-edit", nil)
	resp := tc.readResponse()
	if len(resp) < 1 || resp[0].Word != "success" {
		t.Fatalf("close-edit response: got %+v", resp)
	}

	if repo.Revs.HeadRevision() != 2 {
		t.Fatalf("head revision: got %d, want 2", repo.Revs.HeadRevision())
	}

	tc.sendCommand("get-file", func(w *wire.Writer) error {
		if err := w.String([]byte("/readme.txt")); err != nil {
			return err
		}
		if err := wire.WriteList(w, func(w *wire.Writer) error { return nil }); err != nil {
			return err
		}
		if err := w.Number(0); err != nil {
			return err
		}
		return w.Number(1)
	})
	headerResp := tc.readResponse()
	if len(headerResp) < 1 || headerResp[0].Word != "success" {
		t.Fatalf("get-file header response: got %+v", headerResp)
	}
	content, err := tc.r.ReadItem()
	if err != nil {
		t.Fatalf("read file content: %v", err)
	}
	if content.Kind != wire.KindString || string(content.String) != "hello\n" {
		t.Fatalf("file content: got %+v", content)
	}
}

func TestLockAndUnlockRoundTrip(t *testing.T) {
	repo := newTestRepository(t, "demo", true)
	_, clientConn := newTestServer(t, repo)
	tc := newTestClient(t, clientConn)

	tc.greetAnonymous("svn://svnbridged/demo")

	tc.sendCommand("lock", func(w *wire.Writer) error {
		if err := w.String([]byte("/readme.txt")); err != nil {
			return err
		}
		if err := wire.WriteList(w, func(w *wire.Writer) error { return w.String([]byte("wip")) }); err != nil {
			return err
		}
		return w.Number(0)
	})
	resp := tc.readResponse()
	if len(resp) < 1 || resp[0].Word != "success" {
		t.Fatalf("lock response: got %+v", resp)
	}

	lock, ok := repo.Locks.Get("/readme.txt")
	if !ok {
		t.Fatalf("expected lock to be recorded")
	}

	tc.sendCommand("unlock", func(w *wire.Writer) error {
		if err := w.String([]byte("/readme.txt")); err != nil {
			return err
		}
		if err := wire.WriteList(w, func(w *wire.Writer) error { return w.String([]byte(lock.Token)) }); err != nil {
			return err
		}
		return w.Number(0)
	})
	resp = tc.readResponse()
	if len(resp) < 1 || resp[0].Word != "success" {
		t.Fatalf("unlock response: got %+v", resp)
	}
	if _, ok := repo.Locks.Get("/readme.txt"); ok {
		t.Fatalf("lock should be released")
	}
}
