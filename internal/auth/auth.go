// Package auth provides the authenticator and ACL oracle collaborators: a
// ChainAuthenticator offering CRAM-MD5 and SSH-CERT, and a StaticACL backed
// by a TOML-configured allow-list.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Result is what an authenticator reports after a challenge/response round.
type Result struct {
	Authenticated bool
	UserID        string
	Challenge     []byte // non-nil when another round is required
	Rejected      string // non-empty reason when Authenticated is false and Challenge is nil
}

// Mechanism is one pluggable SASL-style authentication mechanism offered in
// the session greeting's mech list.
type Mechanism interface {
	Name() string
	// StartChallenge returns the initial challenge bytes sent to the client,
	// or nil if the mechanism authenticates from the first client response.
	StartChallenge() []byte
	// Respond processes one round of client response bytes.
	Respond(state []byte, response []byte) (Result, []byte, error)
}

// ChainAuthenticator offers a fixed, ordered set of mechanisms and dispatches
// a session's chosen mechanism to it by name.
type ChainAuthenticator struct {
	mechs        map[string]Mechanism
	order        []string
	allowAnon    bool
}

// NewChainAuthenticator builds an authenticator from the given mechanisms,
// in the order they should be offered. allowAnon additionally advertises
// "ANONYMOUS", handled specially since it has no response round at all.
func NewChainAuthenticator(allowAnon bool, mechs ...Mechanism) *ChainAuthenticator {
	c := &ChainAuthenticator{mechs: make(map[string]Mechanism), allowAnon: allowAnon}
	for _, m := range mechs {
		c.mechs[m.Name()] = m
		c.order = append(c.order, m.Name())
	}
	return c
}

// Mechanisms lists the mech names to advertise in the greeting, ANONYMOUS
// first when allowed (matching common SVN server behavior of preferring the
// cheapest mechanism).
func (c *ChainAuthenticator) Mechanisms() []string {
	var names []string
	if c.allowAnon {
		names = append(names, "ANONYMOUS")
	}
	names = append(names, c.order...)
	return names
}

// AnonymousAllowed reports whether ANONYMOUS is offered.
func (c *ChainAuthenticator) AnonymousAllowed() bool { return c.allowAnon }

// StartChallenge returns the initial challenge for mechName, or an error if
// the mechanism isn't offered.
func (c *ChainAuthenticator) StartChallenge(mechName string) ([]byte, error) {
	if mechName == "ANONYMOUS" {
		if !c.allowAnon {
			return nil, fmt.Errorf("auth: ANONYMOUS is not offered")
		}
		return nil, nil
	}
	m, ok := c.mechs[mechName]
	if !ok {
		return nil, fmt.Errorf("auth: unsupported mechanism %q", mechName)
	}
	return m.StartChallenge(), nil
}

// Respond dispatches one challenge/response round to mechName's Mechanism.
func (c *ChainAuthenticator) Respond(mechName string, state, response []byte) (Result, []byte, error) {
	if mechName == "ANONYMOUS" {
		if !c.allowAnon {
			return Result{Rejected: "ANONYMOUS not offered"}, nil, nil
		}
		return Result{Authenticated: true, UserID: "anonymous"}, nil, nil
	}
	m, ok := c.mechs[mechName]
	if !ok {
		return Result{}, nil, fmt.Errorf("auth: unsupported mechanism %q", mechName)
	}
	return m.Respond(state, response)
}

// CRAMMD5 implements the SVN wire protocol's required CRAM-MD5 mechanism
// (RFC 2195): the server sends a nonce, the client responds with
// "user hex(hmac-md5(nonce, secret))". Passwords live in a static map keyed
// by username; a real deployment would swap this for an LDAP/Gitea/GitLab
// provider, per SPEC_FULL.md's pluggable-collaborator boundary.
type CRAMMD5 struct {
	secrets map[string]string
}

func NewCRAMMD5(secrets map[string]string) *CRAMMD5 {
	return &CRAMMD5{secrets: secrets}
}

func (*CRAMMD5) Name() string { return "CRAM-MD5" }

func (*CRAMMD5) StartChallenge() []byte {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	return []byte(fmt.Sprintf("<%x@svnbridged>", nonce))
}

func (c *CRAMMD5) Respond(nonce []byte, response []byte) (Result, []byte, error) {
	parts := strings.SplitN(string(response), " ", 2)
	if len(parts) != 2 {
		return Result{Rejected: "malformed CRAM-MD5 response"}, nil, nil
	}
	user, digestHex := parts[0], parts[1]
	secret, ok := c.secrets[user]
	if !ok {
		return Result{Rejected: "unknown user"}, nil, nil
	}

	mac := hmac.New(md5.New, []byte(secret))
	mac.Write(nonce)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(digestHex))) {
		return Result{Rejected: "digest mismatch"}, nil, nil
	}
	return Result{Authenticated: true, UserID: user}, nil, nil
}

// SSHCert implements a non-standard bridge-specific mechanism: the server
// issues a nonce, the client signs it with an SSH private key, and the
// server verifies the signature against a configured authorized-keys-style
// list, mirroring the teacher's commit-signing flow
// (cmd/got/signing_ssh.go) but for authentication rather than signing a Git
// commit payload.
type SSHCert struct {
	authorizedKeys map[string]ssh.PublicKey // fingerprint -> key
	owners         map[string]string        // fingerprint -> userID
}

// NewSSHCert builds the mechanism from a map of userID to one or more
// authorized public keys in OpenSSH authorized_keys line format.
func NewSSHCert(authorizedKeyLines map[string][]string) (*SSHCert, error) {
	s := &SSHCert{authorizedKeys: make(map[string]ssh.PublicKey), owners: make(map[string]string)}
	for user, lines := range authorizedKeyLines {
		for _, line := range lines {
			pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
			if err != nil {
				return nil, fmt.Errorf("auth: parse authorized key for %q: %w", user, err)
			}
			fp := ssh.FingerprintSHA256(pub)
			s.authorizedKeys[fp] = pub
			s.owners[fp] = user
		}
	}
	return s, nil
}

func (*SSHCert) Name() string { return "SSH-CERT" }

func (*SSHCert) StartChallenge() []byte {
	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)
	return nonce
}

// Respond expects response as "base64(pubkeyBlob) base64(signatureBlob)
// sigFormat", the signature covering the issued nonce.
func (s *SSHCert) Respond(nonce []byte, response []byte) (Result, []byte, error) {
	parts := strings.SplitN(string(response), " ", 3)
	if len(parts) != 3 {
		return Result{Rejected: "malformed SSH-CERT response"}, nil, nil
	}
	pubBlob, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return Result{Rejected: "malformed public key"}, nil, nil
	}
	sigBlob, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return Result{Rejected: "malformed signature"}, nil, nil
	}
	pub, err := ssh.ParsePublicKey(pubBlob)
	if err != nil {
		return Result{Rejected: "unparseable public key"}, nil, nil
	}

	fp := ssh.FingerprintSHA256(pub)
	known, ok := s.authorizedKeys[fp]
	if !ok || string(known.Marshal()) != string(pub.Marshal()) {
		return Result{Rejected: "key not authorized"}, nil, nil
	}

	sig := &ssh.Signature{Format: parts[2], Blob: sigBlob}
	if err := known.Verify(nonce, sig); err != nil {
		return Result{Rejected: "signature verification failed"}, nil, nil
	}
	return Result{Authenticated: true, UserID: s.owners[fp]}, nil, nil
}

// Operation is one of the three access levels the ACL oracle discriminates
// on, matching spec.md's {read, write, admin}.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpAdmin
)

// rule is one path-prefix-glob allow rule in a StaticACL.
type rule struct {
	user    string // "*" matches any authenticated user
	pattern string // glob against the repository-relative path
	op      Operation
}

// StaticACL is a TOML-configured allow-list ACL oracle: a path-prefix-glob
// per (user, operation), denying anything not explicitly allowed.
type StaticACL struct {
	rules []rule
}

// NewStaticACL builds a StaticACL from config entries, each naming a user
// ("*" for any), a glob pattern, and the access level it grants.
func NewStaticACL(entries []ACLEntry) *StaticACL {
	acl := &StaticACL{}
	for _, e := range entries {
		acl.rules = append(acl.rules, rule{user: e.User, pattern: e.PathGlob, op: parseOp(e.Access)})
	}
	return acl
}

// ACLEntry is one [[auth.acl]] row as loaded from svnbridged.toml.
type ACLEntry struct {
	User     string
	PathGlob string
	Access   string // "read", "write", or "admin"
}

func parseOp(s string) Operation {
	switch strings.ToLower(s) {
	case "write":
		return OpWrite
	case "admin":
		return OpAdmin
	default:
		return OpRead
	}
}

// Allow reports whether userID may perform op on repoPath. Admin access
// implies write and read; write implies read.
func (a *StaticACL) Allow(userID, repoPath string, op Operation) bool {
	clean := "/" + strings.TrimLeft(repoPath, "/")
	for _, r := range a.rules {
		if r.user != "*" && r.user != userID {
			continue
		}
		matched := false
		for p := clean; ; p = path.Dir(p) {
			if ok, err := path.Match(r.pattern, p); err == nil && ok {
				matched = true
				break
			}
			if p == "/" {
				break
			}
		}
		if !matched {
			continue
		}
		if r.op >= op {
			return true
		}
	}
	return false
}
