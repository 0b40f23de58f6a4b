package session

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/svnbridge/svnbridged/internal/auth"
	"github.com/svnbridge/svnbridged/internal/logging"
	"github.com/svnbridge/svnbridged/internal/wire"
)

// capabilities are the server-advertised feature flags from the greeting,
// matching what a modern svn client expects to see before it decides which
// request variants to send.
var capabilities = []string{
	"edit-pipeline", "svndiff1", "absent-entries", "commit-revprops",
	"depth", "log-revprops", "atomic-revprops", "partial-replay", "inherited-props",
}

// protocolMin and protocolMax are the supported SVN wire protocol version
// range; svnbridge speaks version 2 only.
const (
	protocolMin = 2
	protocolMax = 2
)

// ACLOracle authorizes one (user, path, operation) triple against a
// repository. internal/auth.StaticACL is the production implementation.
type ACLOracle interface {
	Allow(userID, repoPath string, op auth.Operation) bool
}

// Server accepts svn:// connections and dispatches each to its own
// goroutine, matching the teacher corpus's plain-goroutine concurrency
// style (no custom scheduler anywhere in the corpus).
type Server struct {
	repos map[string]*Repository
	authn *auth.ChainAuthenticator
	acl   ACLOracle
	log   *logging.Logger

	IdleTimeout   time.Duration
	EditorTimeout time.Duration
}

// NewServer builds a Server with no repositories registered yet; call
// AddRepository for each one to serve.
func NewServer(authn *auth.ChainAuthenticator, acl ACLOracle, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	return &Server{
		repos:         make(map[string]*Repository),
		authn:         authn,
		acl:           acl,
		log:           log,
		IdleTimeout:   60 * time.Second,
		EditorTimeout: 10 * time.Minute,
	}
}

// AddRepository registers repo under its Name, reachable at
// svn://<host>/<name>/...
func (s *Server) AddRepository(repo *Repository) {
	s.repos[repo.Name] = repo
}

// Serve accepts connections on ln until it returns an error (including on
// listener close), handling each on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("session: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// conn is the per-connection state machine: Greeting -> AuthChallenge ->
// RepositoryOpen -> CommandLoop -> Closed.
type conn struct {
	srv    *Server
	nc     net.Conn
	r      *wire.Reader
	w      *wire.Writer
	log    *logging.Logger
	user   string
	anon   bool
	repo   *Repository
	target string // client-reported URL path below the repository root
}

func (s *Server) handleConn(nc net.Conn) {
	c := &conn{
		srv: s,
		nc:  nc,
		r:   wire.NewReader(nc),
		w:   wire.NewWriter(nc),
		log: s.log.WithPrefix(nc.RemoteAddr().String()),
	}
	defer nc.Close()

	if err := c.greet(); err != nil {
		c.log.Errorf("greeting: %v", err)
		return
	}
	if err := c.authenticate(); err != nil {
		c.log.Errorf("auth: %v", err)
		return
	}
	if err := c.openRepository(); err != nil {
		c.log.Errorf("open repository: %v", err)
		return
	}
	if err := c.commandLoop(); err != nil && err != io.EOF {
		c.log.Errorf("command loop: %v", err)
	}
}

// greet sends the protocol range and capability list, then reads the
// client's chosen version and requested URL.
func (c *conn) greet() error {
	if err := c.setReadDeadline(); err != nil {
		return err
	}
	if err := wire.WriteList(c.w, func(w *wire.Writer) error {
		if err := w.Number(protocolMin); err != nil {
			return err
		}
		if err := w.Number(protocolMax); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error {
			for _, cap := range capabilities {
				if err := w.Word(cap); err != nil {
					return err
				}
			}
			return nil
		})
	}); err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}

	items, err := c.r.ReadList()
	if err != nil {
		return fmt.Errorf("read client greeting: %w", err)
	}
	cursor := newArgCursor(items)
	if _, err := cursor.number(); err != nil { // chosen protocol version
		return fmt.Errorf("read chosen version: %w", err)
	}
	if _, err := cursor.list(); err != nil { // requested capabilities
		return fmt.Errorf("read requested capabilities: %w", err)
	}
	url, err := cursor.str()
	if err != nil {
		return fmt.Errorf("read target url: %w", err)
	}
	c.target = string(url)
	return nil
}

// authenticate runs the mech-advertisement and challenge/response loop
// until a mechanism reports success or the connection gives up.
func (c *conn) authenticate() error {
	mechs := c.srv.authn.Mechanisms()
	if err := wire.WriteList(c.w, func(w *wire.Writer) error {
		if err := wire.WriteList(w, func(w *wire.Writer) error {
			for _, m := range mechs {
				if err := w.Word(m); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		return w.String([]byte("svnbridged"))
	}); err != nil {
		return fmt.Errorf("write auth request: %w", err)
	}

	items, err := c.r.ReadList()
	if err != nil {
		return fmt.Errorf("read mech choice: %w", err)
	}
	cursor := newArgCursor(items)
	mechName, err := cursor.word()
	if err != nil {
		return fmt.Errorf("read chosen mechanism: %w", err)
	}

	challenge, err := c.srv.authn.StartChallenge(mechName)
	if err != nil {
		return c.sendAuthFailed(err.Error())
	}

	var initial []byte
	if cursor.more() {
		initial, _ = cursor.str()
	}

	if mechName == "ANONYMOUS" {
		result, _, err := c.srv.authn.Respond(mechName, nil, initial)
		if err != nil {
			return c.sendAuthFailed(err.Error())
		}
		return c.finishAuth(result)
	}

	if err := c.sendChallenge(challenge); err != nil {
		return err
	}

	state := challenge
	response := initial
	for round := 0; round < 8; round++ {
		if response == nil {
			resp, err := c.readResponse()
			if err != nil {
				return err
			}
			response = resp
		}
		result, nextChallenge, err := c.srv.authn.Respond(mechName, state, response)
		if err != nil {
			return c.sendAuthFailed(err.Error())
		}
		if result.Challenge != nil {
			if err := c.sendChallenge(result.Challenge); err != nil {
				return err
			}
			state = result.Challenge
			response = nil
			continue
		}
		if nextChallenge != nil {
			if err := c.sendChallenge(nextChallenge); err != nil {
				return err
			}
			state = nextChallenge
			response = nil
			continue
		}
		return c.finishAuth(result)
	}
	return c.sendAuthFailed("too many challenge rounds")
}

func (c *conn) sendChallenge(challenge []byte) error {
	return wire.WriteList(c.w, func(w *wire.Writer) error {
		if err := w.Word("step"); err != nil {
			return err
		}
		return w.String(challenge)
	})
}

func (c *conn) readResponse() ([]byte, error) {
	items, err := c.r.ReadList()
	if err != nil {
		return nil, err
	}
	cursor := newArgCursor(items)
	return cursor.str()
}

func (c *conn) sendAuthFailed(reason string) error {
	if err := wire.WriteError(c.w, wire.ServerError{Code: wire.ErrRANotAuthorized, Message: reason}); err != nil {
		return err
	}
	return fmt.Errorf("auth failed: %s", reason)
}

func (c *conn) finishAuth(result auth.Result) error {
	if !result.Authenticated {
		return c.sendAuthFailed(result.Rejected)
	}
	c.user = result.UserID
	c.anon = result.UserID == "anonymous"
	return wire.WriteSuccess(c.w, func(w *wire.Writer) error { return nil })
}

// openRepository maps the client's reported target URL to a registered
// Repository and sends back its UUID and root URL.
func (c *conn) openRepository() error {
	name, rest := splitRepoPath(c.target)
	repo, ok := c.srv.repos[name]
	if !ok {
		return wire.WriteError(c.w, wire.ServerError{Code: wire.ErrFSNotFound, Message: fmt.Sprintf("no such repository %q", name)})
	}
	if !repo.AnonymousRead && c.anon {
		return wire.WriteError(c.w, wire.ServerError{Code: wire.ErrRANotAuthorized, Message: "anonymous access not permitted"})
	}
	c.repo = repo
	c.target = rest

	if _, err := repo.Sync(); err != nil {
		return fmt.Errorf("sync repository: %w", err)
	}

	return wire.WriteSuccess(c.w, func(w *wire.Writer) error {
		if err := w.String([]byte(repo.UUID)); err != nil {
			return err
		}
		return w.String([]byte("svn://svnbridged/" + repo.Name))
	})
}

// splitRepoPath strips the "svn://host[:port]" scheme and authority a real
// client sends in its greeting URL, then splits the remaining path into the
// leading repository name and the rest of the path below it.
func splitRepoPath(rawURL string) (name, rest string) {
	trimmed := rawURL
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+len("://"):]
		if slash := strings.IndexByte(trimmed, '/'); slash >= 0 {
			trimmed = trimmed[slash+1:]
		} else {
			trimmed = ""
		}
	}
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '/' {
			return trimmed[:i], trimmed[i:]
		}
	}
	return trimmed, ""
}

func (c *conn) setReadDeadline() error {
	if c.srv.IdleTimeout <= 0 {
		return nil
	}
	return c.nc.SetReadDeadline(time.Now().Add(c.srv.IdleTimeout))
}

// errAccessDenied marks that checkACL already framed and wrote a failure
// response; the command loop must not write a second response for the same
// command but should otherwise keep serving the connection.
var errAccessDenied = fmt.Errorf("session: access denied")

// checkACL wraps a command's access check, mirroring the reference
// implementation's practice of running a permission step before every
// command handler (BaseCmd.process pushing a CheckPermissionStep ahead of
// processCommand).
func (c *conn) checkACL(path string, op auth.Operation) error {
	if c.srv.acl == nil {
		return nil
	}
	if c.srv.acl.Allow(c.user, c.repo.Name+path, op) {
		return nil
	}
	if err := wire.WriteError(c.w, wire.ServerError{Code: wire.ErrRANotAuthorized, Message: "access denied"}); err != nil {
		return err
	}
	return errAccessDenied
}
