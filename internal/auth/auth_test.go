package auth

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestCRAMMD5Success(t *testing.T) {
	mech := NewCRAMMD5(map[string]string{"alice": "s3cret"})
	nonce := mech.StartChallenge()

	mac := hmac.New(md5.New, []byte("s3cret"))
	mac.Write(nonce)
	digest := hex.EncodeToString(mac.Sum(nil))
	response := []byte(fmt.Sprintf("alice %s", digest))

	result, _, err := mech.Respond(nonce, response)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !result.Authenticated || result.UserID != "alice" {
		t.Fatalf("Respond = %+v, want authenticated alice", result)
	}
}

func TestCRAMMD5WrongDigest(t *testing.T) {
	mech := NewCRAMMD5(map[string]string{"alice": "s3cret"})
	nonce := mech.StartChallenge()
	result, _, err := mech.Respond(nonce, []byte("alice deadbeef"))
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if result.Authenticated {
		t.Fatalf("expected rejection for wrong digest")
	}
}

func TestSSHCertRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	_ = pub
	pubLine := string(ssh.MarshalAuthorizedKey(signer.PublicKey()))

	mech, err := NewSSHCert(map[string][]string{"alice": {strings.TrimSpace(pubLine)}})
	if err != nil {
		t.Fatalf("NewSSHCert: %v", err)
	}
	nonce := mech.StartChallenge()

	sig, err := signer.Sign(nil, nonce)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	response := buildSSHResponse(signer.PublicKey(), sig)
	result, _, err := mech.Respond(nonce, response)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !result.Authenticated || result.UserID != "alice" {
		t.Fatalf("Respond = %+v, want authenticated alice", result)
	}
}

func buildSSHResponse(pub ssh.PublicKey, sig *ssh.Signature) []byte {
	return []byte(fmt.Sprintf("%s %s %s",
		base64.StdEncoding.EncodeToString(pub.Marshal()),
		base64.StdEncoding.EncodeToString(sig.Blob),
		sig.Format))
}

func TestStaticACLAllowDeny(t *testing.T) {
	acl := NewStaticACL([]ACLEntry{
		{User: "*", PathGlob: "/public/*", Access: "read"},
		{User: "alice", PathGlob: "/*", Access: "admin"},
	})

	if !acl.Allow("bob", "/public/readme.txt", OpRead) {
		t.Fatalf("expected public read to be allowed")
	}
	if acl.Allow("bob", "/public/readme.txt", OpWrite) {
		t.Fatalf("expected public write to be denied")
	}
	if !acl.Allow("alice", "/private/secret.txt", OpAdmin) {
		t.Fatalf("expected alice's admin rule to apply")
	}
	if acl.Allow("bob", "/private/secret.txt", OpRead) {
		t.Fatalf("expected unmatched path to be denied")
	}
}
